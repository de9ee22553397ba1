package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/sshcollectorpro/netauto/internal/parser"
)

// Format 报表格式
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
)

// Formats 支持的格式
var Formats = []Format{FormatText, FormatMarkdown, FormatCSV, FormatJSON, FormatHTML}

// ParseFormat 解析格式名，md 视为 markdown
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", "txt":
		return FormatText, nil
	case "md":
		return FormatMarkdown, nil
	case FormatText, FormatMarkdown, FormatCSV, FormatJSON, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Ext 文件扩展名
func (f Format) Ext() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatText:
		return "txt"
	}
	return string(f)
}

// ContentType MIME 类型
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Align 列对齐方式
type Align string

const (
	AlignLeft   Align = "left"
	AlignRight  Align = "right"
	AlignCenter Align = "center"
)

// ColumnSpec 列定义
type ColumnSpec struct {
	Field  string `json:"field" yaml:"field"`
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
	Align  Align  `json:"align,omitempty" yaml:"align,omitempty"`
	// MinWidth 文本格式下的最小显示宽度
	MinWidth int `json:"min_width,omitempty" yaml:"min_width,omitempty"`
	// Decimals 大于 0 时数值按固定小数位输出
	Decimals int `json:"decimals,omitempty" yaml:"decimals,omitempty"`
}

func (c ColumnSpec) title() string {
	if c.Header != "" {
		return c.Header
	}
	return c.Field
}

// FormatSpec 渲染参数；Columns 为空时按记录中字段首次出现的顺序生成
type FormatSpec struct {
	Format  Format       `json:"format" yaml:"format"`
	Title   string       `json:"title,omitempty" yaml:"title,omitempty"`
	Columns []ColumnSpec `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Render 将记录渲染为文本，不修改传入的记录
func Render(records []parser.Record, spec FormatSpec) (string, error) {
	format, err := ParseFormat(string(spec.Format))
	if err != nil {
		return "", err
	}
	cols, err := columns(records, spec.Columns)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatMarkdown:
		return renderMarkdown(records, cols, spec.Title), nil
	case FormatCSV:
		return renderCSV(records, cols)
	case FormatJSON:
		return renderJSON(records, cols)
	case FormatHTML:
		return renderHTML(records, cols, spec.Title)
	}
	return renderText(records, cols, spec.Title), nil
}

// columns 校验列定义，未指定时由记录推导
func columns(records []parser.Record, specs []ColumnSpec) ([]ColumnSpec, error) {
	if len(specs) == 0 {
		seen := map[string]bool{}
		for _, rec := range records {
			for _, f := range rec {
				if !seen[f.Name] {
					seen[f.Name] = true
					specs = append(specs, ColumnSpec{Field: f.Name})
				}
			}
		}
		return specs, nil
	}
	out := make([]ColumnSpec, len(specs))
	for i, c := range specs {
		if strings.TrimSpace(c.Field) == "" {
			return nil, fmt.Errorf("column #%d: field is required", i+1)
		}
		switch c.Align {
		case "":
			c.Align = AlignLeft
		case AlignLeft, AlignRight, AlignCenter:
		default:
			return nil, fmt.Errorf("column %s: unknown align %q", c.Field, c.Align)
		}
		if c.MinWidth < 0 || c.Decimals < 0 {
			return nil, fmt.Errorf("column %s: min_width and decimals must not be negative", c.Field)
		}
		out[i] = c
	}
	return out, nil
}

// cell 单元格文本
func cell(rec parser.Record, c ColumnSpec) string {
	v, ok := rec.Get(c.Field)
	if !ok {
		return ""
	}
	if c.Decimals > 0 {
		if n, ok := v.Int(); ok {
			return strconv.FormatFloat(float64(n), 'f', c.Decimals, 64)
		}
		if v.Kind() == parser.KindString {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64); err == nil {
				return strconv.FormatFloat(f, 'f', c.Decimals, 64)
			}
		}
	}
	return v.String()
}

func cells(records []parser.Record, cols []ColumnSpec) [][]string {
	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = cell(rec, c)
		}
		rows[i] = row
	}
	return rows
}

// pad 按显示宽度补齐，CJK 字符占两列
func pad(s string, width int, align Align) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	gap := width - w
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + s
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", gap-left)
	}
	return s + strings.Repeat(" ", gap)
}

func renderText(records []parser.Record, cols []ColumnSpec, title string) string {
	rows := cells(records, cols)
	widths := make([]int, len(cols))
	for j, c := range cols {
		widths[j] = runewidth.StringWidth(c.title())
		if c.MinWidth > widths[j] {
			widths[j] = c.MinWidth
		}
		for _, row := range rows {
			if w := runewidth.StringWidth(row[j]); w > widths[j] {
				widths[j] = w
			}
		}
	}

	var b strings.Builder
	if title != "" {
		b.WriteString(title + "\n")
		b.WriteString(strings.Repeat("=", runewidth.StringWidth(title)) + "\n\n")
	}
	line := func(values []string, aligns func(int) Align) {
		parts := make([]string, len(values))
		for j, v := range values {
			parts[j] = pad(v, widths[j], aligns(j))
		}
		b.WriteString(strings.TrimRight(strings.Join(parts, "  "), " ") + "\n")
	}
	headers := make([]string, len(cols))
	rules := make([]string, len(cols))
	for j, c := range cols {
		headers[j] = c.title()
		rules[j] = strings.Repeat("-", widths[j])
	}
	line(headers, func(int) Align { return AlignLeft })
	line(rules, func(int) Align { return AlignLeft })
	for _, row := range rows {
		line(row, func(j int) Align { return cols[j].Align })
	}
	return b.String()
}

func renderMarkdown(records []parser.Record, cols []ColumnSpec, title string) string {
	esc := strings.NewReplacer("|", `\|`, "\n", " ")
	var b strings.Builder
	if title != "" {
		b.WriteString("## " + title + "\n\n")
	}
	headers := make([]string, len(cols))
	marks := make([]string, len(cols))
	for j, c := range cols {
		headers[j] = esc.Replace(c.title())
		switch c.Align {
		case AlignRight:
			marks[j] = "---:"
		case AlignCenter:
			marks[j] = ":---:"
		default:
			marks[j] = "---"
		}
	}
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	b.WriteString("| " + strings.Join(marks, " | ") + " |\n")
	for _, row := range cells(records, cols) {
		for j := range row {
			row[j] = esc.Replace(row[j])
		}
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return b.String()
}

func renderCSV(records []parser.Record, cols []ColumnSpec) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	headers := make([]string, len(cols))
	for j, c := range cols {
		headers[j] = c.title()
	}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	if err := w.WriteAll(cells(records, cols)); err != nil {
		return "", fmt.Errorf("render csv: %w", err)
	}
	return buf.String(), nil
}

// renderJSON 输出保留类型的对象数组，仅包含选定列
func renderJSON(records []parser.Record, cols []ColumnSpec) (string, error) {
	out := make([]parser.Record, len(records))
	for i, rec := range records {
		projected := parser.Record{}
		for _, c := range cols {
			if v, ok := rec.Get(c.Field); ok {
				projected = append(projected, parser.Field{Name: c.Field, Value: v})
			}
		}
		out[i] = projected.Clone()
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render json: %w", err)
	}
	return string(data) + "\n", nil
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
table { border-collapse: collapse; font-family: monospace; }
th, td { border: 1px solid #ccc; padding: 4px 8px; }
th { background: #f0f0f0; }
</style>
</head>
<body>
{{if .Title}}<h2>{{.Title}}</h2>
{{end}}<table>
<thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .}}<td style="text-align: {{.Align}}">{{.Text}}</td>{{end}}</tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

type htmlCell struct {
	Text  string
	Align string
}

func renderHTML(records []parser.Record, cols []ColumnSpec, title string) (string, error) {
	headers := make([]string, len(cols))
	for j, c := range cols {
		headers[j] = c.title()
	}
	var rows [][]htmlCell
	for _, row := range cells(records, cols) {
		hr := make([]htmlCell, len(row))
		for j, v := range row {
			align := string(cols[j].Align)
			if align == "" {
				align = string(AlignLeft)
			}
			hr[j] = htmlCell{Text: v, Align: align}
		}
		rows = append(rows, hr)
	}
	var buf bytes.Buffer
	err := htmlReport.Execute(&buf, struct {
		Title   string
		Headers []string
		Rows    [][]htmlCell
	}{title, headers, rows})
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
