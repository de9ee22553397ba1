package driver

import (
	"errors"
	"fmt"
	"time"
)

// 错误码，供 API 与日志使用
const (
	CodeAuthFailed      = "AUTH_FAILED"
	CodeConnectTimeout  = "CONNECT_TIMEOUT"
	CodeCommandTimeout  = "COMMAND_TIMEOUT"
	CodeModeTransition  = "MODE_TRANSITION_FAILED"
	CodeSessionUnusable = "SESSION_UNUSABLE"
)

var (
	// ErrEmptyCommand 空命令在任何 I/O 之前被拒绝
	ErrEmptyCommand = errors.New("empty command")
	// ErrSessionUnusable 会话因超时或 I/O 故障不可再用，需要关闭重连
	ErrSessionUnusable = errors.New("session unusable")
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("session closed")
	// ErrModeMismatch 命令要求的模式与会话当前模式不一致
	ErrModeMismatch = errors.New("mode mismatch")
)

// AuthenticationError 认证失败，不自动重试
type AuthenticationError struct {
	Host     string
	Username string
	Reason   string
	Err      error
}

func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("authentication failed for %s@%s", e.Username, e.Host)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Code 错误码
func (e *AuthenticationError) Code() string { return CodeAuthFailed }

// ConnectTimeoutError 建连、握手或等待首个提示符超时
type ConnectTimeoutError struct {
	Host string
	// After 生效的超时时长
	After time.Duration
	Err   error
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("connect to %s timed out after %s", e.Host, e.After)
}

func (e *ConnectTimeoutError) Unwrap() error { return e.Err }

// Code 错误码
func (e *ConnectTimeoutError) Code() string { return CodeConnectTimeout }

// Timeout 标记为超时类错误
func (e *ConnectTimeoutError) Timeout() bool { return true }

// CommandTimeoutError 命令在空闲或总超时内未等到提示符
type CommandTimeoutError struct {
	Command string
	Mode    Mode
	After   time.Duration
	Idle    bool
	// Partial 超时前已收到的输出
	Partial string
}

func (e *CommandTimeoutError) Error() string {
	kind := "total"
	if e.Idle {
		kind = "idle"
	}
	return fmt.Sprintf("command %q in %s mode: no prompt within %s %s timeout", e.Command, e.Mode, e.After, kind)
}

// Code 错误码
func (e *CommandTimeoutError) Code() string { return CodeCommandTimeout }

// Timeout 标记为超时类错误
func (e *CommandTimeoutError) Timeout() bool { return true }

// ModeTransitionError 设备拒绝模式切换，会话停留在最后一个确认的模式
type ModeTransitionError struct {
	From    Mode
	To      Mode
	Command string
	Reason  string
	Err     error
}

func (e *ModeTransitionError) Error() string {
	msg := fmt.Sprintf("transition %s -> %s", e.From, e.To)
	if e.Command != "" {
		msg += fmt.Sprintf(" via %q", e.Command)
	}
	msg += " failed"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModeTransitionError) Unwrap() error { return e.Err }

// Code 错误码
func (e *ModeTransitionError) Code() string { return CodeModeTransition }

// IsTimeout 判断错误链上是否存在超时错误
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
