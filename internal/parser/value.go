package parser

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind 字段声明类型
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindStatus
	KindList
)

var kindNames = [...]string{"string", "int", "status", "list"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind 解析类型名
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "str":
		return KindString, nil
	case "int", "integer":
		return KindInt, nil
	case "status":
		return KindStatus, nil
	case "list":
		return KindList, nil
	}
	return KindString, fmt.Errorf("unknown field type %q", s)
}

// MarshalText 实现 encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Status 接口/协议状态
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

var statusWords = map[string]Status{
	"up":                    StatusUp,
	"connected":             StatusUp,
	"enabled":               StatusUp,
	"enable":                StatusUp,
	"active":                StatusUp,
	"true":                  StatusUp,
	"yes":                   StatusUp,
	"down":                  StatusDown,
	"administratively down": StatusDown,
	"admin down":            StatusDown,
	"notconnect":            StatusDown,
	"not connected":         StatusDown,
	"disabled":              StatusDown,
	"disable":               StatusDown,
	"inactive":              StatusDown,
	"err-disabled":          StatusDown,
	"false":                 StatusDown,
	"no":                    StatusDown,
}

// ParseStatus 归一化状态文本，华为的 *down、^down、up(s) 等标记一并处理
func ParseStatus(s string) (Status, bool) {
	t := strings.ToLower(strings.Join(strings.Fields(s), " "))
	t = strings.TrimLeft(t, "*^")
	if i := strings.IndexByte(t, '('); i > 0 {
		t = strings.TrimSpace(t[:i])
	}
	st, ok := statusWords[t]
	return st, ok
}

// Value 类型化的字段值
type Value struct {
	kind Kind
	str  string
	num  int64
	list []string
}

// StringValue 字符串值
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// IntValue 整数值
func IntValue(n int64) Value { return Value{kind: KindInt, num: n, str: strconv.FormatInt(n, 10)} }

// StatusValue 状态值
func StatusValue(s Status) Value { return Value{kind: KindStatus, str: string(s)} }

// ListValue 字符串列表值
func ListValue(items []string) Value {
	return Value{kind: KindList, list: append([]string{}, items...)}
}

// Kind 值类型
func (v Value) Kind() Kind { return v.kind }

// String 文本形式，列表以逗号连接
func (v Value) String() string {
	if v.kind == KindList {
		return strings.Join(v.list, ",")
	}
	return v.str
}

// Int 整数值，非整数类型返回 false
func (v Value) Int() (int64, bool) { return v.num, v.kind == KindInt }

// Status 状态值，非状态类型返回 false
func (v Value) Status() (Status, bool) { return Status(v.str), v.kind == KindStatus }

// List 列表副本
func (v Value) List() []string {
	if v.kind != KindList {
		return nil
	}
	return append([]string{}, v.list...)
}

// Interface 转为 JSON 友好的 Go 值
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindInt:
		return v.num
	case KindList:
		return v.List()
	}
	return v.str
}

// MarshalJSON 按类型输出
func (v Value) MarshalJSON() ([]byte, error) { return json.Marshal(v.Interface()) }

// Equal 类型与内容均相同
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.str != o.str || v.num != o.num || len(v.list) != len(o.list) {
		return false
	}
	for i := range v.list {
		if v.list[i] != o.list[i] {
			return false
		}
	}
	return true
}

// Field 记录中的一个字段
type Field struct {
	Name  string
	Value Value
}

// Record 一条结构化记录，字段按模板声明顺序排列
type Record []Field

// Get 按名称取值
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Strings 以字符串形式导出，便于比较与渲染
func (r Record) Strings() map[string]string {
	out := make(map[string]string, len(r))
	for _, f := range r {
		out[f.Name] = f.Value.String()
	}
	return out
}

// Clone 深拷贝
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for i, f := range r {
		out[i] = Field{Name: f.Name, Value: f.Value}
		if f.Value.kind == KindList {
			out[i].Value.list = append([]string{}, f.Value.list...)
		}
	}
	return out
}

// MarshalJSON 输出为保持字段顺序的 JSON 对象
func (r Record) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// RecordFromMap 由无序 map 构造记录，字段按名称排序；JSON 数字中的整数转为整数值
func RecordFromMap(m map[string]interface{}) (Record, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	rec := make(Record, 0, len(names))
	for _, name := range names {
		var v Value
		switch x := m[name].(type) {
		case nil:
			continue
		case string:
			v = StringValue(x)
		case bool:
			v = StringValue(strconv.FormatBool(x))
		case float64:
			if x != math.Trunc(x) || math.Abs(x) > math.MaxInt64/2 {
				v = StringValue(strconv.FormatFloat(x, 'f', -1, 64))
			} else {
				v = IntValue(int64(x))
			}
		case int:
			v = IntValue(int64(x))
		case int64:
			v = IntValue(x)
		case []string:
			v = ListValue(x)
		case []interface{}:
			items := make([]string, 0, len(x))
			for _, it := range x {
				items = append(items, fmt.Sprint(it))
			}
			v = ListValue(items)
		default:
			return nil, fmt.Errorf("field %q: unsupported value type %T", name, x)
		}
		rec = append(rec, Field{Name: name, Value: v})
	}
	return rec, nil
}
