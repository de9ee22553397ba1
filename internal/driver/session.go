package driver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sshcollectorpro/netauto/internal/credential"
	"github.com/sshcollectorpro/netauto/internal/util"
	"github.com/sshcollectorpro/netauto/pkg/logger"
)

// Channel 字节流通道：写入、带超时读取、关闭
// 读超时返回的错误需实现 Timeout() bool
type Channel interface {
	Write(p []byte) (int, error)
	Read(timeout time.Duration) ([]byte, error)
	Close() error
}

// Dialer 建立到设备的通道并完成传输层认证
// 认证失败应返回 *AuthenticationError，超时返回 *ConnectTimeoutError
type Dialer interface {
	Dial(ctx context.Context, creds credential.Credentials) (Channel, error)
}

// DialerFunc 函数适配器
type DialerFunc func(ctx context.Context, creds credential.Credentials) (Channel, error)

// Dial 实现 Dialer
func (f DialerFunc) Dial(ctx context.Context, creds credential.Credentials) (Channel, error) {
	return f(ctx, creds)
}

// Options 会话参数
type Options struct {
	// Name 设备标识，仅用于日志
	Name    string
	Profile Profile

	ConnectTimeout time.Duration
	// IdleTimeout 单次读取无数据的最长等待；为 0 时取平台默认
	IdleTimeout time.Duration
	// CommandTimeout 单条命令的总超时；为 0 时取平台默认
	CommandTimeout time.Duration
	// PromptRetries 登录后未见提示符时发送回车的次数
	PromptRetries int
	// SkipPaging 不发送关闭分页命令
	SkipPaging bool
	// CaptureLogLines debug日志中回显的首尾行数
	CaptureLogLines int
}

func (o *Options) withDefaults() {
	if o.Profile.Platform == "" && o.Profile.ExecPrompt == "" && o.Profile.PrivilegedPrompt == "" {
		o.Profile = Generic()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = o.Profile.IdleTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 10 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = o.Profile.CommandTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 60 * time.Second
	}
	if o.PromptRetries <= 0 {
		o.PromptRetries = 2
	}
	if o.Profile.LineEnding == "" {
		o.Profile.LineEnding = "\n"
	}
	if o.CaptureLogLines <= 0 {
		o.CaptureLogLines = 3
	}
}

// CommandResult 单条命令的执行结果，创建后不再修改
type CommandResult struct {
	Command string        `json:"command"`
	Output  string        `json:"output"`
	Elapsed time.Duration `json:"elapsed"`
	Success bool          `json:"success"`
	Mode    Mode          `json:"mode"`
	Error   string        `json:"error,omitempty"`
}

// Session 一台设备的交互式 CLI 会话，所有操作串行执行
type Session struct {
	mu sync.Mutex

	ch       Channel
	opts     Options
	profile  *compiledProfile
	prompts  *PromptMachine
	decoder  *util.StreamDecoder
	mode     Mode
	unusable bool
	closed   bool

	host         string
	enableSecret string
	log          *logrus.Entry
}

// Open 建立会话：拨号、等待首个提示符、识别初始模式、关闭分页
func Open(ctx context.Context, dialer Dialer, creds credential.Credentials, opts Options) (*Session, error) {
	opts.withDefaults()
	compiled, err := opts.Profile.compile()
	if err != nil {
		return nil, err
	}
	decoder, err := util.NewStreamDecoder(opts.Profile.Charset)
	if err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = creds.Host
	}

	dctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	ch, err := dialer.Dial(dctx, creds)
	cancel()
	if err != nil {
		return nil, classifyDialError(creds, opts.ConnectTimeout, err)
	}

	s := &Session{
		ch:           ch,
		opts:         opts,
		profile:      compiled,
		prompts:      newPromptMachine(compiled),
		decoder:      decoder,
		mode:         Unauthenticated,
		host:         creds.Host,
		enableSecret: creds.EnableSecret,
		log:          logger.ForDevice(name, opts.Profile.Platform),
	}

	if err := s.login(creds); err != nil {
		_ = ch.Close()
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"mode":   s.mode.String(),
		"prompt": s.prompts.Pattern(),
	}).Debug("session opened")

	if !opts.SkipPaging {
		for _, cmd := range opts.Profile.PagingCommands {
			res, err := s.executeLocked(cmd)
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			if !res.Success {
				s.log.WithField("command", cmd).Warnf("paging command rejected: %s", res.Error)
			}
		}
	}
	return s, nil
}

func classifyDialError(creds credential.Credentials, timeout time.Duration, err error) error {
	var authErr *AuthenticationError
	var connErr *ConnectTimeoutError
	if errors.As(err, &authErr) || errors.As(err, &connErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || IsTimeout(err) {
		return &ConnectTimeoutError{Host: creds.Host, After: timeout, Err: err}
	}
	return fmt.Errorf("dial %s: %w", creds.Host, err)
}

func (s *Session) newReader(total time.Duration) *reader {
	r := &reader{
		ch:           s.ch,
		decoder:      s.decoder,
		idle:         s.opts.IdleTimeout,
		total:        total,
		continuation: s.profile.continuation,
		moreSend:     s.opts.Profile.ContinuationResponse,
	}
	for _, ai := range s.profile.auto {
		send := ai.send
		if !ai.raw {
			send += s.opts.Profile.LineEnding
		}
		r.responses = append(r.responses, interaction{re: ai.expect, send: send})
	}
	return r
}

func (s *Session) writeLine(line string) error {
	_, err := s.ch.Write([]byte(line + s.opts.Profile.LineEnding))
	return err
}

// login 等待首个提示符，必要时应答带内用户名/密码
func (s *Session) login(creds credential.Credentials) error {
	r := s.newReader(s.opts.ConnectTimeout)
	r.idle = s.opts.ConnectTimeout / time.Duration(s.opts.PromptRetries+1)
	p := s.profile
	matches := func(re *regexp.Regexp, text string) bool {
		return re != nil && re.MatchString(lastLine(text))
	}
	failed := func(text string) (string, bool) {
		for _, re := range p.loginFail {
			for _, line := range strings.Split(text, "\n") {
				if re.MatchString(line) {
					return strings.TrimSpace(line), true
				}
			}
		}
		return "", false
	}

	sentUser, sentPassword, nudges := false, false, 0
	for {
		got, err := r.read(func(text string) bool {
			if _, ok := s.prompts.MatchAny(text); ok {
				return true
			}
			if _, bad := failed(text); bad {
				return true
			}
			return matches(p.username, text) || matches(p.password, text)
		})
		if err != nil {
			return fmt.Errorf("login %s: %w", s.host, err)
		}
		if got.timedOut {
			if nudges < s.opts.PromptRetries {
				nudges++
				if err := s.writeLine(""); err != nil {
					return fmt.Errorf("login %s: %w", s.host, err)
				}
				continue
			}
			return &ConnectTimeoutError{Host: s.host, After: s.opts.ConnectTimeout}
		}
		if reason, bad := failed(got.text); bad {
			return &AuthenticationError{Host: s.host, Username: creds.Username, Reason: reason}
		}
		if _, ok := s.prompts.MatchAny(got.text); ok {
			mode, err := s.prompts.Learn(lastLine(got.text))
			if err != nil {
				return err
			}
			s.mode = mode
			return nil
		}
		switch {
		case matches(p.username, got.text):
			if sentUser {
				return &AuthenticationError{Host: s.host, Username: creds.Username, Reason: "username rejected"}
			}
			sentUser = true
			err = s.writeLine(creds.Username)
		case matches(p.password, got.text):
			if sentPassword {
				return &AuthenticationError{Host: s.host, Username: creds.Username, Reason: "password rejected"}
			}
			sentPassword = true
			err = s.writeLine(creds.Secret)
		}
		if err != nil {
			return fmt.Errorf("login %s: %w", s.host, err)
		}
	}
}

// Execute 在指定模式下执行一条命令；mode 必须等于会话当前模式
func (s *Session) Execute(ctx context.Context, command string, mode Mode) (CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return CommandResult{}, ErrEmptyCommand
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return CommandResult{}, err
	}
	if mode != s.mode {
		return CommandResult{}, fmt.Errorf("%w: %q requires %s, session is in %s", ErrModeMismatch, command, mode, s.mode)
	}
	if err := ctx.Err(); err != nil {
		return CommandResult{}, err
	}
	return s.executeLocked(command)
}

func (s *Session) usableLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.unusable {
		return ErrSessionUnusable
	}
	return nil
}

func (s *Session) executeLocked(command string) (CommandResult, error) {
	start := time.Now()
	res := CommandResult{Command: command, Mode: s.mode}

	if s.profile.hostname != nil {
		if m := s.profile.hostname.FindStringSubmatch(strings.TrimSpace(command)); len(m) > 1 {
			s.prompts.Expect(m[1])
		}
	}

	if err := s.writeLine(command); err != nil {
		s.unusable = true
		res.Elapsed = time.Since(start)
		res.Error = err.Error()
		return res, fmt.Errorf("write %q: %w", command, err)
	}

	got, err := s.newReader(s.opts.CommandTimeout).read(func(text string) bool {
		_, ok := s.prompts.MatchAny(text)
		return ok
	})
	res.Elapsed = time.Since(start)
	if err != nil {
		s.unusable = true
		res.Output = got.text
		res.Error = err.Error()
		return res, fmt.Errorf("read %q: %w", command, err)
	}
	if got.timedOut {
		s.unusable = true
		timeout := s.opts.CommandTimeout
		if got.idle {
			timeout = s.opts.IdleTimeout
		}
		terr := &CommandTimeoutError{Command: command, Mode: s.mode, After: timeout, Idle: got.idle, Partial: got.text}
		res.Output = got.text
		res.Error = terr.Error()
		s.log.WithField("command", command).Warn(terr.Error())
		return res, terr
	}

	observed, _ := s.prompts.MatchAny(got.text)
	s.prompts.Settle(got.text)
	res.Output = stripEcho(got.text, command)
	res.Success = true
	if line, bad := s.profile.errorLine(res.Output); bad {
		res.Success = false
		res.Error = line
	}
	if observed != s.mode {
		s.log.WithFields(logrus.Fields{
			"command": command,
			"from":    s.mode.String(),
			"to":      observed.String(),
		}).Warn("command changed cli mode")
		s.mode = observed
		s.prompts.Transition(observed)
		res.Success = false
		if res.Error == "" {
			res.Error = fmt.Sprintf("command left %s mode, now in %s", res.Mode, observed)
		}
	}
	logger.DebugCapture(s.log, command, res.Output, s.opts.CaptureLogLines)
	return res, nil
}

// EnterMode 逐级切换到目标模式，失败时停留在最后一个确认的模式
func (s *Session) EnterMode(ctx context.Context, target Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}
	if !target.Valid() || target == Unauthenticated {
		return &ModeTransitionError{From: s.mode, To: target, Reason: "target mode cannot be entered, close the session instead"}
	}
	for s.mode != target {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.stepLocked(s.mode.step(target)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) transitionCommand(from, to Mode) string {
	p := &s.opts.Profile
	switch {
	case from == Exec && to == Privileged:
		return p.EnableCommand
	case from == Privileged && to == Config:
		return p.ConfigEnterCommand
	case from == Config && to == Privileged:
		return p.ConfigExitCommand
	case from == Privileged && to == Exec:
		return p.DisableCommand
	}
	return ""
}

func (s *Session) stepLocked(next Mode) error {
	from := s.mode
	cmd := s.transitionCommand(from, next)
	if cmd == "" || s.profile.modes[next] == nil {
		return &ModeTransitionError{From: from, To: next, Reason: "not supported by platform " + s.opts.Profile.Platform}
	}
	if err := s.writeLine(cmd); err != nil {
		s.unusable = true
		return &ModeTransitionError{From: from, To: next, Command: cmd, Err: err}
	}

	passwordPrompt := s.profile.enablePassword
	answered := 0
	var got capture
	for {
		var err error
		got, err = s.newReader(s.opts.CommandTimeout).read(func(text string) bool {
			if _, ok := s.prompts.MatchAny(text); ok {
				return true
			}
			return next == Privileged && passwordPrompt != nil && passwordPrompt.MatchString(lastLine(text))
		})
		if err != nil {
			s.unusable = true
			return &ModeTransitionError{From: from, To: next, Command: cmd, Err: err}
		}
		if got.timedOut {
			s.unusable = true
			return &ModeTransitionError{From: from, To: next, Command: cmd, Err: &CommandTimeoutError{
				Command: cmd, Mode: from, After: s.opts.CommandTimeout, Idle: got.idle, Partial: got.text,
			}}
		}
		if _, ok := s.prompts.MatchAny(got.text); ok {
			break
		}
		// 密码提示：第一次发送 enable 密码，之后只回车让设备结束重试
		secret := ""
		if answered == 0 {
			secret = s.enableSecret
		}
		answered++
		if answered > 3 {
			s.unusable = true
			return &ModeTransitionError{From: from, To: next, Command: cmd, Reason: "password prompt repeated"}
		}
		if err := s.writeLine(secret); err != nil {
			s.unusable = true
			return &ModeTransitionError{From: from, To: next, Command: cmd, Err: err}
		}
	}

	observed, _ := s.prompts.MatchAny(got.text)
	if observed != next {
		reason := fmt.Sprintf("device returned to %s prompt", observed)
		output := stripEcho(got.text, cmd)
		if line, bad := s.profile.errorLine(output); bad {
			reason = line
		} else if trimmed := strings.TrimSpace(output); trimmed != "" {
			reason = lastLine(trimmed)
		}
		if observed != from {
			s.mode = observed
			s.prompts.Transition(observed)
		}
		return &ModeTransitionError{From: from, To: next, Command: cmd, Reason: reason}
	}
	if _, err := s.prompts.Learn(lastLine(got.text)); err != nil {
		return &ModeTransitionError{From: from, To: next, Command: cmd, Err: err}
	}
	s.mode = next
	s.log.WithFields(logrus.Fields{"from": from.String(), "to": next.String()}).Debug("mode transition")
	return nil
}

// Close 退出并关闭通道，可重复调用
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.unusable && s.opts.Profile.LogoutCommand != "" {
		_ = s.writeLine(s.opts.Profile.LogoutCommand)
	}
	s.unusable = true
	return s.ch.Close()
}

// Mode 当前模式
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Usable 会话是否仍可执行命令
func (s *Session) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.unusable
}

// PromptPattern 当前学习到的提示符正则
func (s *Session) PromptPattern() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts.Pattern()
}

// Hostname 从提示符学习到的主机名
func (s *Session) Hostname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts.Stem()
}

// Platform 平台标识
func (s *Session) Platform() string {
	return s.opts.Profile.Platform
}
