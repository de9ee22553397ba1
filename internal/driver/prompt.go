package driver

import (
	"fmt"
	"regexp"
	"strings"
)

// stemPattern 提取提示符中的主机名部分：R1# / R1(config)# / <HUAWEI> / [~HUAWEI-Vlanif10]
var stemPattern = regexp.MustCompile(`^[<\[]?[~*]?([^\s<>\[\]()#>$%~*]+)`)

// PromptMachine 提示符状态机：模式 × 学习到的提示符
type PromptMachine struct {
	classes [4]*regexp.Regexp
	mode    Mode
	stem    string
	learned *regexp.Regexp
	// 改主机名命令发出后，同时接受新旧两个主机名
	altStem string
	alt     *regexp.Regexp
}

// NewPromptMachine 根据平台参数创建状态机，初始为未认证状态
func NewPromptMachine(p *Profile) (*PromptMachine, error) {
	c, err := p.compile()
	if err != nil {
		return nil, err
	}
	return newPromptMachine(c), nil
}

func newPromptMachine(c *compiledProfile) *PromptMachine {
	return &PromptMachine{classes: c.modes, mode: Unauthenticated}
}

// Mode 当前确认的模式
func (m *PromptMachine) Mode() Mode { return m.mode }

// Stem 学习到的主机名
func (m *PromptMachine) Stem() string { return m.stem }

// Pattern 学习到的提示符正则
func (m *PromptMachine) Pattern() string {
	if m.learned == nil {
		return ""
	}
	return m.learned.String()
}

// Classify 判断一行是否为某个模式的提示符，配置模式优先
func (m *PromptMachine) Classify(line string) (Mode, bool) {
	line = strings.TrimRight(line, "\r")
	for _, mode := range []Mode{Config, Privileged, Exec} {
		re := m.classes[mode]
		if re != nil && re.MatchString(line) {
			return mode, true
		}
	}
	return Unauthenticated, false
}

// Learn 以一行提示符为准，重新学习主机名与模式
func (m *PromptMachine) Learn(line string) (Mode, error) {
	line = strings.TrimSpace(line)
	mode, ok := m.Classify(line)
	if !ok {
		return m.mode, fmt.Errorf("%q is not a recognised prompt", line)
	}
	sub := stemPattern.FindStringSubmatch(line)
	if sub == nil {
		return m.mode, fmt.Errorf("cannot derive hostname from prompt %q", line)
	}
	m.setStem(sub[1])
	m.mode = mode
	return mode, nil
}

// Rename 主机名在会话中被修改
func (m *PromptMachine) Rename(stem string) {
	if stem != "" {
		m.setStem(stem)
	}
}

// Expect 预期主机名即将变为 stem
func (m *PromptMachine) Expect(stem string) {
	m.altStem = stem
	m.alt = stemRegexp(stem)
}

// Settle 根据实际出现的提示符确认主机名，清除预期
func (m *PromptMachine) Settle(text string) {
	if m.alt != nil && m.alt.MatchString(lastLine(text)) {
		m.setStem(m.altStem)
	}
	m.alt, m.altStem = nil, ""
}

func (m *PromptMachine) setStem(stem string) {
	m.stem = stem
	m.learned = stemRegexp(stem)
	m.alt, m.altStem = nil, ""
}

func stemRegexp(stem string) *regexp.Regexp {
	return regexp.MustCompile(`^[<\[]?[~*]?` + regexp.QuoteMeta(stem) + `[^\n]*$`)
}

// Transition 记录已确认的模式切换
func (m *PromptMachine) Transition(mode Mode) {
	m.mode = mode
}

// MatchAny 文本末行是否为本设备任一模式的提示符
func (m *PromptMachine) MatchAny(text string) (Mode, bool) {
	last := lastLine(text)
	if last == "" {
		return Unauthenticated, false
	}
	if m.learned != nil && !m.learned.MatchString(last) {
		if m.alt == nil || !m.alt.MatchString(last) {
			return Unauthenticated, false
		}
	}
	return m.Classify(last)
}

// Match 文本末行是否为当前模式的提示符
func (m *PromptMachine) Match(text string) bool {
	mode, ok := m.MatchAny(text)
	return ok && mode == m.mode
}

// lastLine 返回最后一行（不含行尾空白）
func lastLine(text string) string {
	text = strings.TrimRight(text, " \t\r")
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimLeft(text, "\r")
}
