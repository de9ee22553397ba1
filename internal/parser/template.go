package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// 保留状态名
const (
	stateStart = "Start"
	stateEnd   = "End"
	stateEOF   = "EOF"
)

var (
	valueNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	stateNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	placeholder = regexp.MustCompile(`\$\{([^}]*)\}`)
	actionSplit = regexp.MustCompile(`\s->\s*`)
)

// FieldSpec 字段声明：正则、标志、类型与取值规则
type FieldSpec struct {
	Name     string   `json:"name"`
	Pattern  string   `json:"pattern"`
	Kind     Kind     `json:"type"`
	Required bool     `json:"required,omitempty"`
	Filldown bool     `json:"filldown,omitempty"`
	Key      bool     `json:"key,omitempty"`
	Rules    []string `json:"rules,omitempty"`
}

type lineOp int

const (
	opNext lineOp = iota
	opContinue
	opError
)

type recordOp int

const (
	recNone recordOp = iota
	recRecord
	recClear
	recClearAll
)

type groupRef struct {
	field int
	index int
}

type rule struct {
	re     *regexp.Regexp
	groups []groupRef
	line   lineOp
	record recordOp
	next   string
	msg    string
	// src 模板中的行号
	src int
}

// Template 编译后的只读模板
type Template struct {
	id     string
	fields []FieldSpec
	states map[string][]rule
	// explicitEOF 模板自己声明了 EOF 状态，此时不做隐式记录
	explicitEOF bool
}

// ID 模板标识
func (t *Template) ID() string { return t.id }

// Fields 字段声明副本
func (t *Template) Fields() []FieldSpec {
	out := make([]FieldSpec, len(t.fields))
	for i, f := range t.fields {
		out[i] = f
		out[i].Rules = append([]string(nil), f.Rules...)
	}
	return out
}

// States 状态名（排序）
func (t *Template) States() []string {
	names := make([]string, 0, len(t.states))
	for n := range t.states {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Compile 编译 TextFSM 风格模板
func Compile(id, text string) (*Template, error) {
	return CompileWithTypes(id, text, nil)
}

// CompileWithTypes 编译模板，types 按字段名追加类型与规则（如 "int"、"status,lower"）
func CompileWithTypes(id, text string, types map[string]string) (*Template, error) {
	t := &Template{id: id, states: map[string][]rule{}}
	fail := func(line int, format string, args ...interface{}) error {
		return &SyntaxError{Template: id, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	current := ""
	inValues := true
	type pendingRule struct {
		text string
		line int
	}
	pending := map[string][]pendingRule{}
	var order []string

	for i, raw := range lines {
		no := i + 1
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if inValues && strings.HasPrefix(trimmed, "Value ") {
			f, err := parseValueLine(trimmed)
			if err != nil {
				return nil, fail(no, "%v", err)
			}
			for _, existing := range t.fields {
				if existing.Name == f.Name {
					return nil, fail(no, "duplicate value %s", f.Name)
				}
			}
			t.fields = append(t.fields, f)
			continue
		}
		// 状态名顶格书写，规则以 ^ 开头
		if !strings.HasPrefix(trimmed, "^") {
			if raw[0] == ' ' || raw[0] == '\t' {
				return nil, fail(no, "rule must start with ^: %q", trimmed)
			}
			name := strings.TrimRight(raw, " \t")
			if !stateNameRe.MatchString(name) {
				return nil, fail(no, "invalid state line %q", trimmed)
			}
			if _, dup := pending[name]; dup {
				return nil, fail(no, "duplicate state %s", name)
			}
			if name == stateEnd {
				return nil, fail(no, "state End is reserved")
			}
			inValues = false
			current = name
			pending[name] = nil
			order = append(order, name)
			continue
		}
		if current == "" {
			return nil, fail(no, "rule outside of a state: %q", trimmed)
		}
		pending[current] = append(pending[current], pendingRule{text: trimmed, line: no})
	}

	if len(t.fields) == 0 {
		return nil, fail(0, "no Value definitions")
	}
	if _, ok := pending[stateStart]; !ok {
		return nil, fail(0, "missing Start state")
	}
	for name, spec := range types {
		idx := t.fieldIndex(name)
		if idx < 0 {
			return nil, fail(0, "type override for unknown value %s", name)
		}
		if err := applyOptions(&t.fields[idx], splitOptions(spec)); err != nil {
			return nil, fail(0, "value %s: %v", name, err)
		}
	}

	for _, name := range order {
		if name == stateEOF {
			t.explicitEOF = true
		}
		rules := make([]rule, 0, len(pending[name]))
		for _, pr := range pending[name] {
			r, err := t.compileRule(pr.text)
			if err != nil {
				return nil, fail(pr.line, "%v", err)
			}
			r.src = pr.line
			rules = append(rules, r)
		}
		t.states[name] = rules
	}
	for _, name := range order {
		for _, r := range t.states[name] {
			if r.next == "" || r.next == stateEnd || r.next == stateEOF {
				continue
			}
			if _, ok := t.states[r.next]; !ok {
				return nil, fail(r.src, "transition to undefined state %s", r.next)
			}
		}
	}
	return t, nil
}

func (t *Template) fieldIndex(name string) int {
	for i, f := range t.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// parseValueLine 解析 "Value [Opt1,Opt2] NAME (regex)"
func parseValueLine(line string) (FieldSpec, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "Value "))
	lp := strings.Index(rest, "(")
	if lp < 0 {
		return FieldSpec{}, fmt.Errorf("value regex must be enclosed in parentheses: %q", line)
	}
	head := strings.Fields(rest[:lp])
	pattern := strings.TrimSpace(rest[lp:])
	if len(head) == 0 {
		return FieldSpec{}, fmt.Errorf("value without name: %q", line)
	}
	if !strings.HasSuffix(pattern, ")") {
		return FieldSpec{}, fmt.Errorf("value regex must be enclosed in parentheses: %q", line)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return FieldSpec{}, fmt.Errorf("value regex: %v", err)
	}
	f := FieldSpec{Name: head[len(head)-1], Pattern: pattern}
	if !valueNameRe.MatchString(f.Name) {
		return FieldSpec{}, fmt.Errorf("invalid value name %q", f.Name)
	}
	var opts []string
	for _, tok := range head[:len(head)-1] {
		opts = append(opts, splitOptions(tok)...)
	}
	if err := applyOptions(&f, opts); err != nil {
		return FieldSpec{}, err
	}
	return f, nil
}

func splitOptions(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyOptions(f *FieldSpec, opts []string) error {
	typed := false
	setKind := func(k Kind) error {
		if typed && f.Kind != k {
			return fmt.Errorf("conflicting types %s and %s", f.Kind, k)
		}
		typed = true
		f.Kind = k
		return nil
	}
	for _, o := range opts {
		var err error
		switch strings.ToLower(o) {
		case "required":
			f.Required = true
		case "filldown":
			f.Filldown = true
		case "key":
			f.Key = true
		case "list":
			err = setKind(KindList)
		case "string", "str":
			err = setKind(KindString)
		case "integer", "int":
			err = setKind(KindInt)
		case "status":
			err = setKind(KindStatus)
		case "trim", "lower", "upper":
			f.Rules = append(f.Rules, strings.ToLower(o))
		default:
			err = fmt.Errorf("unknown value option %q", o)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// compileRule 编译一条规则：替换 ${NAME} 为命名捕获组并解析动作
func (t *Template) compileRule(text string) (rule, error) {
	r := rule{}
	pattern := text
	if locs := actionSplit.FindAllStringIndex(text, -1); len(locs) > 0 {
		loc := locs[len(locs)-1]
		pattern = strings.TrimSpace(text[:loc[0]])
		if err := parseAction(strings.TrimSpace(text[loc[1]:]), &r); err != nil {
			return r, err
		}
	}

	var subErr error
	used := map[string]bool{}
	expanded := placeholder.ReplaceAllStringFunc(pattern, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		idx := t.fieldIndex(name)
		if idx < 0 {
			subErr = fmt.Errorf("unknown value ${%s}", name)
			return m
		}
		if used[name] {
			subErr = fmt.Errorf("value ${%s} used twice in one rule", name)
			return m
		}
		used[name] = true
		inner := t.fields[idx].Pattern
		inner = inner[1 : len(inner)-1]
		return "(?P<" + name + ">" + inner + ")"
	})
	if subErr != nil {
		return r, subErr
	}
	expanded = strings.ReplaceAll(expanded, "$$", "$")
	re, err := regexp.Compile(expanded)
	if err != nil {
		return r, fmt.Errorf("rule regex: %v", err)
	}
	r.re = re
	for gi, name := range re.SubexpNames() {
		if name == "" || !used[name] {
			continue
		}
		r.groups = append(r.groups, groupRef{field: t.fieldIndex(name), index: gi})
	}
	return r, nil
}

// parseAction 解析 "LineOp.RecordOp NewState"、"RecordOp NewState"、"NewState" 或 Error "msg"
func parseAction(action string, r *rule) error {
	if action == "" {
		return fmt.Errorf("empty action")
	}
	first, rest, _ := strings.Cut(action, " ")
	rest = strings.TrimSpace(rest)

	if strings.EqualFold(first, "Error") {
		r.line = opError
		r.msg = strings.Trim(rest, `"`)
		return nil
	}

	lineTok, recTok := "", ""
	if a, b, ok := strings.Cut(first, "."); ok {
		lineTok, recTok = a, b
	} else if isLineOp(first) {
		lineTok = first
	} else if isRecordOp(first) {
		recTok = first
	} else {
		// 仅状态跳转
		if rest != "" {
			return fmt.Errorf("unexpected action %q", action)
		}
		r.next = first
		return nil
	}

	switch lineTok {
	case "", "Next":
		r.line = opNext
	case "Continue":
		r.line = opContinue
	default:
		return fmt.Errorf("unknown line action %q", lineTok)
	}
	switch recTok {
	case "", "NoRecord":
		r.record = recNone
	case "Record":
		r.record = recRecord
	case "Clear":
		r.record = recClear
	case "Clearall":
		r.record = recClearAll
	default:
		return fmt.Errorf("unknown record action %q", recTok)
	}
	if rest != "" {
		if strings.ContainsAny(rest, " \t") || !stateNameRe.MatchString(rest) {
			return fmt.Errorf("invalid new state %q", rest)
		}
		if r.line == opContinue {
			return fmt.Errorf("state change not allowed with Continue")
		}
		r.next = rest
	}
	return nil
}

func isLineOp(s string) bool { return s == "Next" || s == "Continue" }

func isRecordOp(s string) bool {
	switch s {
	case "NoRecord", "Record", "Clear", "Clearall":
		return true
	}
	return false
}
