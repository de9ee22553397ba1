package driver

import (
	"regexp"
	"strings"
	"time"

	"github.com/sshcollectorpro/netauto/internal/util"
)

// ansiPattern 终端控制序列
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b[()][A-Z0-9]|\x1b[=>]`)

// sanitize 清理控制字符：ANSI 序列、退格、孤立回车
func sanitize(s string) string {
	if strings.ContainsRune(s, '\x1b') {
		s = ansiPattern.ReplaceAllString(s, "")
	}
	if strings.ContainsRune(s, '\b') {
		out := make([]rune, 0, len(s))
		for _, r := range s {
			if r == '\b' {
				if len(out) > 0 {
					out = out[:len(out)-1]
				}
				continue
			}
			out = append(out, r)
		}
		s = string(out)
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || (r >= 0x20 && r != 0x7f) {
			return r
		}
		return -1
	}, s)
}

// stopFunc 判断已累积文本是否满足结束条件
type stopFunc func(text string) bool

// interaction 读取过程中需要回应的输出
type interaction struct {
	re   *regexp.Regexp
	send string
}

// capture 单次读取的结果
type capture struct {
	text     string
	timedOut bool
	idle     bool
	waited   time.Duration
}

// reader 在一个通道上按空闲/总超时读取，直到 stop 成立
type reader struct {
	ch        Channel
	decoder   *util.StreamDecoder
	idle      time.Duration
	total     time.Duration
	responses []interaction
	// continuation 分页提示，命中后发送 more 并在结果中去除
	continuation *regexp.Regexp
	moreSend     string
}

func (r *reader) read(stop stopFunc) (capture, error) {
	var buf strings.Builder
	start := time.Now()
	deadline := start.Add(r.total)
	scanFrom := 0

	for {
		text := sanitize(buf.String())
		if stop(text) {
			return capture{text: r.clean(text), waited: time.Since(start)}, nil
		}

		if tail := text[min(scanFrom, len(text)):]; tail != "" {
			if r.continuation != nil && r.continuation.MatchString(lastLine(tail)) {
				if _, err := r.ch.Write([]byte(r.moreSend)); err != nil {
					return capture{text: r.clean(text)}, err
				}
				scanFrom = len(text)
				continue
			}
			responded := false
			for _, it := range r.responses {
				if it.re.MatchString(lastLine(tail)) {
					if _, err := r.ch.Write([]byte(it.send)); err != nil {
						return capture{text: r.clean(text)}, err
					}
					responded = true
					break
				}
			}
			if responded {
				scanFrom = len(text)
				continue
			}
		}

		wait := r.idle
		remaining := time.Until(deadline)
		idleWait := true
		if remaining <= 0 {
			return capture{text: r.clean(text), timedOut: true, waited: time.Since(start)}, nil
		}
		if wait <= 0 || remaining < wait {
			wait = remaining
			idleWait = false
		}

		chunk, err := r.ch.Read(wait)
		if err != nil {
			if IsTimeout(err) {
				return capture{text: r.clean(text), timedOut: true, idle: idleWait, waited: time.Since(start)}, nil
			}
			return capture{text: r.clean(text)}, err
		}
		if len(chunk) > 0 {
			buf.WriteString(r.decoder.Decode(chunk))
		}
	}
}

// clean 去除分页提示残留
func (r *reader) clean(text string) string {
	if r.continuation == nil {
		return text
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if loc := r.continuation.FindStringIndex(line); loc != nil {
			line = strings.TrimRight(line[:loc[0]]+line[loc[1]:], " ")
			if strings.TrimSpace(line) == "" {
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// stripEcho 去掉命令回显与末尾提示符
func stripEcho(text, command string) string {
	lines := strings.Split(text, "\n")
	// 末行是提示符
	if len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	cmd := strings.TrimSpace(command)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if cmd != "" && strings.HasSuffix(trimmed, cmd) {
			lines = lines[i+1:]
		} else {
			lines = lines[i:]
		}
		break
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
