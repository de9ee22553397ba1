package parser

import "fmt"

// 错误码
const (
	CodeNoTemplate       = "NO_TEMPLATE"
	CodeNoRecordsMatched = "NO_RECORDS_MATCHED"
	CodeTemplateInvalid  = "TEMPLATE_INVALID"
	CodeTemplateError    = "TEMPLATE_ERROR_ACTION"
)

// NoTemplateFoundError 注册表中没有对应 (platform, command) 的模板
type NoTemplateFoundError struct {
	Platform string
	Command  string
}

func (e *NoTemplateFoundError) Error() string {
	return fmt.Sprintf("no template registered for platform %q command %q", e.Platform, e.Command)
}

// Code 错误码
func (e *NoTemplateFoundError) Code() string { return CodeNoTemplate }

// NoRecordsMatchedError 没有任何行命中模板规则，也没有产生记录
type NoRecordsMatchedError struct {
	Template  string
	Matched   int
	Unmatched int
}

func (e *NoRecordsMatchedError) Error() string {
	return fmt.Sprintf("template %s: no records (%d lines matched, %d unmatched)", e.Template, e.Matched, e.Unmatched)
}

// Code 错误码
func (e *NoRecordsMatchedError) Code() string { return CodeNoRecordsMatched }

// SyntaxError 模板编译失败
type SyntaxError struct {
	Template string
	Line     int
	Msg      string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("template %s line %d: %s", e.Template, e.Line, e.Msg)
	}
	return fmt.Sprintf("template %s: %s", e.Template, e.Msg)
}

// Code 错误码
func (e *SyntaxError) Code() string { return CodeTemplateInvalid }

// ActionError 模板规则执行了 Error 动作，本次解析结果作废
type ActionError struct {
	Template string
	Line     int
	Input    string
	Msg      string
}

func (e *ActionError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "state error"
	}
	return fmt.Sprintf("template %s: %s at input line %d: %q", e.Template, msg, e.Line, e.Input)
}

// Code 错误码
func (e *ActionError) Code() string { return CodeTemplateError }

// CoercionError 字段类型转换失败，只丢弃所在记录
type CoercionError struct {
	Field string `json:"field"`
	Kind  Kind   `json:"type"`
	Value string `json:"value"`
	// Record 丢弃记录的序号（按产生顺序，从 1 开始，含被丢弃的）
	Record int `json:"record"`
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("record %d field %s: cannot convert %q to %s", e.Record, e.Field, e.Value, e.Kind)
}
