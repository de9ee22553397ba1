package parser

import (
	"fmt"
	"strings"
)

// IdentityTemplate 按空白分列的模板，用于重新解析文本报表：
// 标题与表头都在第一条由短横线组成的分隔线之前，分隔线之后每个数据行产生一条记录。
// 列值中不能含空白；列表类型按字符串处理
func IdentityTemplate(platform, command string, fields []FieldSpec) (*Template, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("identity template needs at least one field")
	}
	var b strings.Builder
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		opts := []string{}
		switch f.Kind {
		case KindInt:
			opts = append(opts, "Integer")
		case KindStatus:
			opts = append(opts, "Status")
		}
		b.WriteString("Value ")
		if len(opts) > 0 {
			b.WriteString(strings.Join(opts, ","))
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s (\\S+)\n", f.Name)
		cols = append(cols, "${"+f.Name+"}")
	}
	b.WriteString("\nStart\n")
	b.WriteString("  ^\\s*-+(\\s+-+)*\\s*$$ -> Rows\n")
	b.WriteString("  ^.*$$ -> Next\n\n")
	b.WriteString("Rows\n")
	b.WriteString("  ^[\\s\\-=+|]*$$ -> Next\n")
	fmt.Fprintf(&b, "  ^\\s*%s\\s*$$ -> Record\n", strings.Join(cols, `\s+`))
	return Compile(NormalizePlatform(platform)+"/identity/"+NormalizeCommand(command), b.String())
}
