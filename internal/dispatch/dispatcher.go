package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/pkg/logger"
)

// CodePrecondition 模式前置条件不满足
const CodePrecondition = "MODE_PRECONDITION"

// ErrAborted 命令被设备拒绝且策略要求立即停止
var ErrAborted = errors.New("sequence aborted on first failure")

// Executor 调度器所需的会话能力，*driver.Session 满足该接口
type Executor interface {
	Mode() driver.Mode
	Usable() bool
	Execute(ctx context.Context, command string, mode driver.Mode) (driver.CommandResult, error)
	EnterMode(ctx context.Context, target driver.Mode) error
}

// Policy 序列执行策略
type Policy struct {
	// AbortOnFirstFailure 第一条失败命令后停止执行后续命令
	AbortOnFirstFailure bool `json:"abort_on_first_failure" mapstructure:"abort_on_first_failure"`
}

// PreconditionError 会话模式不满足请求，未进行任何 I/O
type PreconditionError struct {
	Requested driver.Mode
	Current   driver.Mode
	Command   string
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("%s commands need the session in ", e.Requested)
	if e.Requested == driver.Config {
		msg += "PRIVILEGED mode"
	} else {
		msg += fmt.Sprintf("EXEC or PRIVILEGED mode with at least %s privilege", e.Requested)
	}
	msg += fmt.Sprintf(", session is in %s", e.Current)
	if e.Command != "" {
		msg += fmt.Sprintf(" (first command %q)", e.Command)
	}
	return msg
}

// Code 错误码
func (e *PreconditionError) Code() string { return CodePrecondition }

// RunSequence 按模式执行一组命令
// show 类命令要求会话已处于足够的权限；配置命令要求会话处于特权模式，
// 执行完毕（包括中途失败）后总是退回特权模式
func RunSequence(ctx context.Context, exec Executor, commands []string, mode driver.Mode, policy Policy) ([]driver.CommandResult, error) {
	for i, cmd := range commands {
		if strings.TrimSpace(cmd) == "" {
			return nil, fmt.Errorf("command #%d: %w", i+1, driver.ErrEmptyCommand)
		}
	}
	first := ""
	if len(commands) > 0 {
		first = commands[0]
	}

	current := exec.Mode()
	switch mode {
	case driver.Exec, driver.Privileged:
		if (current != driver.Exec && current != driver.Privileged) || current < mode {
			return nil, &PreconditionError{Requested: mode, Current: current, Command: first}
		}
		return runIn(ctx, exec, commands, current, policy)
	case driver.Config:
		if current != driver.Privileged {
			return nil, &PreconditionError{Requested: mode, Current: current, Command: first}
		}
		return runConfig(ctx, exec, commands, policy)
	}
	return nil, &PreconditionError{Requested: mode, Current: current, Command: first}
}

// runIn 在固定模式下顺序执行
func runIn(ctx context.Context, exec Executor, commands []string, mode driver.Mode, policy Policy) ([]driver.CommandResult, error) {
	results := make([]driver.CommandResult, 0, len(commands))
	for _, cmd := range commands {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := exec.Execute(ctx, cmd, mode)
		if res.Command != "" {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
		if now := exec.Mode(); now != mode {
			return results, &driver.ModeTransitionError{From: mode, To: now, Command: cmd, Reason: "command changed cli mode"}
		}
		if !res.Success && policy.AbortOnFirstFailure {
			return results, fmt.Errorf("%w: %q: %s", ErrAborted, cmd, res.Error)
		}
	}
	return results, nil
}

func runConfig(ctx context.Context, exec Executor, commands []string, policy Policy) ([]driver.CommandResult, error) {
	log := logger.WithFields(logrus.Fields{"commands": len(commands), "abort_on_failure": policy.AbortOnFirstFailure})
	if err := exec.EnterMode(ctx, driver.Config); err != nil {
		return nil, err
	}

	results, runErr := runIn(ctx, exec, commands, driver.Config, policy)

	// 退出配置模式不受调用方取消影响
	exitCtx := context.WithoutCancel(ctx)
	if exec.Usable() && exec.Mode() != driver.Privileged {
		if err := exec.EnterMode(exitCtx, driver.Privileged); err != nil {
			log.Warnf("failed to leave configuration mode: %v", err)
			if runErr == nil {
				return results, err
			}
			return results, errors.Join(runErr, err)
		}
	}
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	log.WithField("failed", failed).Debug("configuration sequence finished")
	return results, runErr
}
