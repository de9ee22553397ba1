package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sshcollectorpro/netauto/addone/interact"
	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/internal/credential"
	"github.com/sshcollectorpro/netauto/internal/dispatch"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/internal/model"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/report"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Target 一台待执行的设备
type Target struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Platform string `json:"platform"`
	Username string `json:"username,omitempty"`
	// Credential 凭据查找键（如 ssh_config 别名），为空时使用 Host
	Credential string `json:"credential,omitempty"`
	// Creds 调用方直接提供的凭据，优先于凭据提供者
	Creds *credential.Credentials `json:"-"`
}

// TargetFromDevice 由设备清单构造
func TargetFromDevice(d model.Device) Target {
	return Target{
		Name:       d.Name,
		Host:       d.Host,
		Port:       d.Port,
		Platform:   d.Platform,
		Username:   d.Username,
		Credential: d.Credential,
	}
}

func (t Target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Host
}

// Job 在每台设备上执行的命令
type Job struct {
	Commands []string        `json:"commands"`
	Mode     driver.Mode     `json:"mode"`
	Parse    bool            `json:"parse"`
	Policy   dispatch.Policy `json:"policy"`
	// Save 配置命令全部成功后执行平台的保存命令
	Save bool `json:"save,omitempty"`
}

var (
	// ErrNotSaved 配置未保存：有命令失败、平台没有保存命令或设备拒绝保存
	ErrNotSaved = errors.New("configuration not saved")
	// ErrBackupUnsupported 平台没有配置备份命令
	ErrBackupUnsupported = errors.New("platform has no backup command")
)

// ErrorInfo 错误码与描述
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandOutcome 单条命令的结果与解析记录
type CommandOutcome struct {
	driver.CommandResult
	Template   string          `json:"template,omitempty"`
	Records    []parser.Record `json:"records,omitempty"`
	Partial    int             `json:"partial,omitempty"`
	ParseError *ErrorInfo      `json:"parse_error,omitempty"`
}

// DeviceResult 单台设备的执行结果
type DeviceResult struct {
	Device   string           `json:"device"`
	Host     string           `json:"host"`
	Platform string           `json:"platform"`
	Mode     driver.Mode      `json:"mode"`
	Commands []CommandOutcome `json:"commands"`
	Error    *ErrorInfo       `json:"error,omitempty"`
	Elapsed  time.Duration    `json:"elapsed"`
}

// Outcome 转为报表汇总项
func (r DeviceResult) Outcome() report.DeviceOutcome {
	o := report.DeviceOutcome{Device: r.Device, Commands: len(r.Commands)}
	for _, c := range r.Commands {
		if !c.Success {
			o.Failed++
		}
		o.Records += len(c.Records)
	}
	if r.Error != nil {
		o.Error = r.Error.Message
	}
	return o
}

// RunReport 一次多设备执行
type RunReport struct {
	RunID   string         `json:"run_id"`
	Started time.Time      `json:"started"`
	Elapsed time.Duration  `json:"elapsed"`
	Devices []DeviceResult `json:"devices"`
}

// Outcomes 各设备汇总项，顺序与 Devices 一致
func (r RunReport) Outcomes() []report.DeviceOutcome {
	out := make([]report.DeviceOutcome, len(r.Devices))
	for i, d := range r.Devices {
		out[i] = d.Outcome()
	}
	return out
}

// Summary 成功率汇总
func (r RunReport) Summary() report.SummaryLine {
	return report.Summary(r.Outcomes())
}

// Records 合并各设备的解析记录，每条记录前加 device 字段
// command 非空时只取该命令的记录，缩写与完整写法视为同一命令
func (r RunReport) Records(command string) []parser.Record {
	var out []parser.Record
	want := parser.NormalizeCommand(command)
	for _, d := range r.Devices {
		for _, c := range d.Commands {
			if want != "" && !parser.SameCommand(c.Command, want) {
				continue
			}
			for _, rec := range c.Records {
				row := make(parser.Record, 0, len(rec)+1)
				row = append(row, parser.Field{Name: "device", Value: parser.StringValue(d.Device)})
				row = append(row, rec.Clone()...)
				out = append(out, row)
			}
		}
	}
	return out
}

// Runner 多设备执行器，持有会话池与模板注册表
type Runner struct {
	cfg      *config.Config
	pool     *driver.Pool
	creds    credential.Provider
	registry *parser.Registry
}

// NewRunner 创建执行器
func NewRunner(cfg *config.Config, dialer driver.Dialer, creds credential.Provider, registry *parser.Registry) *Runner {
	pool := driver.NewPool(dialer, driver.PoolConfig{
		MaxActive:       cfg.Runner.Pool.MaxActive,
		IdleTimeout:     cfg.Runner.Pool.IdleTimeout,
		CleanupInterval: cfg.Runner.Pool.CleanupInterval,
	})
	return &Runner{cfg: cfg, pool: pool, creds: creds, registry: registry}
}

// Close 关闭会话池
func (r *Runner) Close() error {
	return r.pool.Close()
}

// Registry 模板注册表
func (r *Runner) Registry() *parser.Registry {
	return r.registry
}

// PoolStats 会话池状态
func (r *Runner) PoolStats() map[string]int {
	return r.pool.Stats()
}

// Profile 平台参数：内置插件参数叠加配置文件中的覆盖项
func (r *Runner) Profile(platform string) driver.Profile {
	prof := interact.Profile(platform)
	if pc, ok := r.cfg.Platform(platform); ok {
		prof = pc.Apply(prof)
	}
	return prof
}

// credentials 解析目标的凭据，目标中显式给出的端口与用户名优先
func (r *Runner) credentials(ctx context.Context, t Target) (credential.Credentials, error) {
	var creds credential.Credentials
	switch {
	case t.Creds != nil:
		creds = *t.Creds
	case r.creds != nil:
		key := t.Credential
		if key == "" {
			key = t.Host
		}
		c, err := r.creds.Credentials(ctx, key)
		if err != nil {
			return credential.Credentials{}, err
		}
		creds = c
	default:
		return credential.Credentials{}, credential.ErrNoCredentials
	}
	// 以主机为查找键时保留 ssh_config 解析出的真实地址
	if creds.Host == "" || (t.Credential != "" && t.Host != "") {
		creds.Host = t.Host
	}
	if t.Port != 0 {
		creds.Port = t.Port
	}
	if t.Username != "" {
		creds.Username = t.Username
	}
	return creds, creds.Validate()
}

// acquire 取会话；建连超时按配置重试，认证失败不重试
func (r *Runner) acquire(ctx context.Context, creds credential.Credentials, opts driver.Options, log *logrus.Entry) (*driver.Session, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.Runner.Retries; attempt++ {
		if attempt > 0 {
			log.Warnf("connect attempt %d failed, retrying: %v", attempt, lastErr)
		}
		s, err := r.pool.Acquire(ctx, creds, opts)
		if err == nil {
			return s, nil
		}
		lastErr = err
		var cte *driver.ConnectTimeoutError
		if !errors.As(err, &cte) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// Run 在一台设备上执行，错误记录在结果中
func (r *Runner) Run(ctx context.Context, t Target, job Job) DeviceResult {
	start := time.Now()
	platform := parser.NormalizePlatform(t.Platform)
	if platform == "" {
		platform = "default"
	}
	res := DeviceResult{Device: t.label(), Host: t.Host, Platform: platform}
	log := logger.ForDevice(res.Device, platform)

	outcomes, mode, err := r.run(ctx, t, platform, job, log)
	res.Commands = outcomes
	res.Mode = mode
	if err != nil {
		res.Error = errorInfo(err)
		log.WithField("code", res.Error.Code).Warnf("device run failed: %v", err)
	}
	res.Elapsed = time.Since(start)
	return res
}

func (r *Runner) run(ctx context.Context, t Target, platform string, job Job, log *logrus.Entry) ([]CommandOutcome, driver.Mode, error) {
	creds, err := r.credentials(ctx, t)
	if err != nil {
		return nil, driver.Unauthenticated, err
	}
	opts := r.cfg.SSH.Options(t.label(), r.Profile(platform))
	s, err := r.acquire(ctx, creds, opts, log)
	if err != nil {
		return nil, driver.Unauthenticated, err
	}
	defer r.pool.Release(s)

	// 特权与配置类任务先显式提权
	if job.Mode >= driver.Privileged && s.Mode() < driver.Privileged {
		if err := s.EnterMode(ctx, driver.Privileged); err != nil {
			return nil, s.Mode(), err
		}
	}
	results, runErr := dispatch.RunSequence(ctx, s, job.Commands, job.Mode, job.Policy)
	if job.Save && job.Mode == driver.Config {
		saved, err := r.save(ctx, s, platform, results, runErr)
		results = append(results, saved...)
		if runErr == nil {
			runErr = err
		}
	}
	outcomes := make([]CommandOutcome, len(results))
	for i, cr := range results {
		outcomes[i] = CommandOutcome{CommandResult: cr}
		if job.Parse && job.Mode != driver.Config && cr.Output != "" {
			r.parseInto(platform, &outcomes[i])
		}
	}
	return outcomes, s.Mode(), runErr
}

// save 在特权模式下执行平台保存命令，之前的配置命令有失败时不保存
func (r *Runner) save(ctx context.Context, s *driver.Session, platform string, results []driver.CommandResult, runErr error) ([]driver.CommandResult, error) {
	if runErr != nil {
		return nil, fmt.Errorf("%w: configuration sequence did not complete", ErrNotSaved)
	}
	for _, res := range results {
		if !res.Success {
			return nil, fmt.Errorf("%w: %q was rejected", ErrNotSaved, res.Command)
		}
	}
	cmd := r.Profile(platform).SaveCommand
	if strings.TrimSpace(cmd) == "" {
		return nil, fmt.Errorf("%w: platform %s has no save command", ErrNotSaved, platform)
	}
	saved, err := dispatch.RunSequence(ctx, s, []string{cmd}, driver.Privileged, dispatch.Policy{})
	if err != nil {
		return saved, err
	}
	if len(saved) == 1 && !saved[0].Success {
		return saved, fmt.Errorf("%w: %s", ErrNotSaved, saved[0].Error)
	}
	return saved, nil
}

// parseInto 解析失败只记录在结果中，原始输出保留
func (r *Runner) parseInto(platform string, out *CommandOutcome) {
	if r.registry == nil {
		return
	}
	pr, err := r.registry.Parse(platform, out.Command, out.Output)
	out.Template = pr.Template
	if err != nil {
		out.ParseError = errorInfo(err)
		return
	}
	out.Records = pr.Records
	out.Partial = pr.Partial
}

// RunMany 并发执行，并发上限取 runner.concurrent
// 结果顺序与 targets 一致；单台设备的失败不影响其它设备
func (r *Runner) RunMany(ctx context.Context, targets []Target, job Job) (RunReport, error) {
	rep := RunReport{RunID: uuid.NewString(), Started: time.Now(), Devices: make([]DeviceResult, len(targets))}
	if len(job.Commands) == 0 {
		return rep, fmt.Errorf("run %s: %w", rep.RunID, driver.ErrEmptyCommand)
	}
	for i, cmd := range job.Commands {
		if strings.TrimSpace(cmd) == "" {
			return rep, fmt.Errorf("run %s: command #%d: %w", rep.RunID, i+1, driver.ErrEmptyCommand)
		}
	}
	log := logger.WithFields(logrus.Fields{"run_id": rep.RunID, "devices": len(targets), "mode": job.Mode.String()})
	log.Info("run started")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency())
	for i, t := range targets {
		g.Go(func() error {
			rep.Devices[i] = r.Run(gctx, t, job)
			return nil
		})
	}
	_ = g.Wait()
	rep.Elapsed = time.Since(rep.Started)
	log.WithField("elapsed", rep.Elapsed.String()).Info(rep.Summary().String())
	return rep, ctx.Err()
}

func (r *Runner) concurrency() int {
	if r.cfg.Runner.Concurrent < 1 {
		return 1
	}
	return r.cfg.Runner.Concurrent
}

// ErrorCode 错误码；未分类的错误返回 INTERNAL
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, driver.ErrEmptyCommand):
		return "INVALID_COMMAND"
	case errors.Is(err, credential.ErrNoCredentials):
		return "NO_CREDENTIALS"
	case errors.Is(err, dispatch.ErrAborted):
		return "ABORTED"
	case errors.Is(err, ErrNotSaved):
		return "NOT_SAVED"
	case errors.Is(err, ErrBackupUnsupported):
		return "BACKUP_UNSUPPORTED"
	case errors.Is(err, driver.ErrSessionUnusable), errors.Is(err, driver.ErrSessionClosed):
		return "SESSION_UNUSABLE"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELLED"
	}
	return "INTERNAL"
}

func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Code: ErrorCode(err), Message: strings.TrimSpace(err.Error())}
}
