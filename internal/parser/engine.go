package parser

import (
	"strconv"
	"strings"
)

// Result 一次解析的结果
type Result struct {
	Template string   `json:"template"`
	Records  []Record `json:"records"`
	// Matched/Unmatched 非空行中命中/未命中当前状态规则的行数
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	// Partial 因类型转换失败被丢弃的记录数
	Partial  int              `json:"partial"`
	Failures []*CoercionError `json:"failures,omitempty"`
}

type slot struct {
	set  bool
	text string
	list []string
}

func (s slot) empty() bool {
	return !s.set || (s.text == "" && len(s.list) == 0)
}

type run struct {
	t       *Template
	slots   []slot
	result  Result
	emitted int
}

// Parse 逐行执行状态机。没有产生记录且没有任何行命中时返回 NoRecordsMatchedError
func (t *Template) Parse(raw string) (Result, error) {
	r := &run{t: t, slots: make([]slot, len(t.fields))}
	r.result.Template = t.id
	r.result.Records = []Record{}

	state := stateStart
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if strings.HasSuffix(text, "\n") {
		lines = lines[:len(lines)-1]
	}

lines:
	for n, line := range lines {
		line = strings.TrimRight(line, "\r")
		matched := false
		for _, rl := range t.states[state] {
			loc := rl.re.FindStringSubmatchIndex(line)
			if loc == nil {
				continue
			}
			matched = true
			r.assign(rl, line, loc)

			if rl.line == opError {
				return Result{Template: t.id, Records: []Record{}}, &ActionError{Template: t.id, Line: n + 1, Input: line, Msg: rl.msg}
			}
			switch rl.record {
			case recRecord:
				r.emit()
			case recClear:
				r.clear(false)
			case recClearAll:
				r.clear(true)
			}
			if rl.next != "" {
				state = rl.next
			}
			if rl.line == opNext {
				break
			}
		}
		r.count(line, matched)
		if state == stateEnd || state == stateEOF {
			break lines
		}
	}

	if state != stateEnd && !t.explicitEOF {
		r.emit()
	}
	if len(r.result.Records) == 0 && r.result.Matched == 0 {
		return r.result, &NoRecordsMatchedError{Template: t.id, Matched: r.result.Matched, Unmatched: r.result.Unmatched}
	}
	return r.result, nil
}

func (r *run) count(line string, matched bool) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if matched {
		r.result.Matched++
	} else {
		r.result.Unmatched++
	}
}

func (r *run) assign(rl rule, line string, loc []int) {
	for _, g := range rl.groups {
		start, end := loc[2*g.index], loc[2*g.index+1]
		if start < 0 {
			continue
		}
		v := line[start:end]
		s := &r.slots[g.field]
		if r.t.fields[g.field].Kind == KindList {
			s.list = append(s.list, v)
		} else {
			s.text = v
		}
		s.set = true
	}
}

func (r *run) clear(all bool) {
	for i, f := range r.t.fields {
		if f.Filldown && !all {
			continue
		}
		r.slots[i] = slot{}
	}
}

// emit 生成一条记录；缺少 Required 字段时丢弃并清空，全部为空时不产生记录
func (r *run) emit() {
	allEmpty := true
	for i, f := range r.t.fields {
		if r.slots[i].empty() {
			if f.Required {
				r.clear(false)
				return
			}
			continue
		}
		allEmpty = false
	}
	if allEmpty {
		return
	}

	r.emitted++
	rec := make(Record, 0, len(r.t.fields))
	var failure *CoercionError
	for i, f := range r.t.fields {
		s := r.slots[i]
		if s.empty() {
			continue
		}
		v, ok := coerce(f, s)
		if !ok {
			failure = &CoercionError{Field: f.Name, Kind: f.Kind, Value: s.text, Record: r.emitted}
			break
		}
		rec = append(rec, Field{Name: f.Name, Value: v})
	}
	if failure != nil {
		r.result.Partial++
		r.result.Failures = append(r.result.Failures, failure)
	} else {
		r.result.Records = append(r.result.Records, rec)
	}
	r.clear(false)
}

func applyRules(s string, rules []string) string {
	for _, rl := range rules {
		switch rl {
		case "trim":
			s = strings.TrimSpace(s)
		case "lower":
			s = strings.ToLower(s)
		case "upper":
			s = strings.ToUpper(s)
		}
	}
	return s
}

func coerce(f FieldSpec, s slot) (Value, bool) {
	switch f.Kind {
	case KindList:
		items := make([]string, len(s.list))
		for i, it := range s.list {
			items[i] = applyRules(it, f.Rules)
		}
		return ListValue(items), true
	case KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(applyRules(s.text, f.Rules)), 10, 64)
		if err != nil {
			return Value{}, false
		}
		return IntValue(n), true
	case KindStatus:
		st, ok := ParseStatus(applyRules(s.text, f.Rules))
		if !ok {
			return Value{}, false
		}
		return StatusValue(st), true
	}
	return StringValue(applyRules(s.text, f.Rules)), true
}
