package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// CaptureExcerpt 命令回显的头部和尾部行
type CaptureExcerpt struct {
	Head  []string `json:"head"`
	Tail  []string `json:"tail"`
	Total int      `json:"total"`
}

// Excerpt 截取回显的前后 maxLines 行
func Excerpt(output string, maxLines int) CaptureExcerpt {
	if maxLines <= 0 {
		maxLines = 5
	}
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return CaptureExcerpt{}
	}
	lines := strings.Split(output, "\n")
	ex := CaptureExcerpt{Total: len(lines)}

	n := maxLines
	if n > len(lines) {
		n = len(lines)
	}
	ex.Head = append([]string(nil), lines[:n]...)
	// 行数不超过 2*maxLines 时尾部只取未被头部覆盖的部分
	start := len(lines) - maxLines
	if start < n {
		start = n
	}
	ex.Tail = append([]string(nil), lines[start:]...)
	return ex
}

// String 日志格式
func (e CaptureExcerpt) String() string {
	if e.Total == 0 {
		return "(empty)"
	}
	var b strings.Builder
	b.WriteString("head: [")
	b.WriteString(strings.Join(e.Head, " ⟩ "))
	b.WriteString("]")
	if len(e.Tail) > 0 {
		b.WriteString(", tail: [")
		b.WriteString(strings.Join(e.Tail, " ⟩ "))
		b.WriteString("]")
	}
	return b.String()
}

// DebugCapture 在debug级别记录命令回显摘要
func DebugCapture(entry *logrus.Entry, command, output string, maxLines int) {
	if entry == nil {
		entry = logrus.NewEntry(GetLogger())
	}
	if !entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	ex := Excerpt(output, maxLines)
	entry.WithFields(logrus.Fields{
		"command": command,
		"lines":   ex.Total,
	}).Debugf("capture %s", ex)
}
