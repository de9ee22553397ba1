package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sshcollectorpro/netauto/internal/dispatch"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"golang.org/x/sync/errgroup"
)

// MaxLoopbackNumber loopback 编号上限
const MaxLoopbackNumber = 2147483647

// LoopbackSpec 一个 loopback 接口的期望配置
type LoopbackSpec struct {
	Number      int64  `json:"number" yaml:"number"`
	Address     string `json:"ip" yaml:"ip"`
	Mask        string `json:"mask" yaml:"mask"`
	Description string `json:"description" yaml:"description"`
}

// Validate 检查编号范围、点分地址与掩码、描述
func (l LoopbackSpec) Validate() error {
	var errs []error
	if l.Number < 0 || l.Number > MaxLoopbackNumber {
		errs = append(errs, fmt.Errorf("invalid loopback number %d", l.Number))
	}
	if err := dottedQuad(l.Address); err != nil {
		errs = append(errs, fmt.Errorf("ip: %w", err))
	}
	if err := dottedQuad(l.Mask); err != nil {
		errs = append(errs, fmt.Errorf("mask: %w", err))
	} else if ones, bits := net.IPMask(net.ParseIP(l.Mask).To4()).Size(); ones == 0 && bits == 0 {
		errs = append(errs, fmt.Errorf("mask %s is not contiguous", l.Mask))
	}
	if strings.TrimSpace(l.Description) == "" {
		errs = append(errs, errors.New("empty value for field 'description'"))
	} else if strings.ContainsAny(l.Description, "\r\n") {
		errs = append(errs, errors.New("description must be a single line"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("loopback %d: %w", l.Number, errors.Join(errs...))
	}
	return nil
}

// dottedQuad 四段十进制，每段 0-255
func dottedQuad(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("empty address")
	}
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return fmt.Errorf("invalid address format %q", s)
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("address %q contains non-numeric values", s)
		}
		if n < 0 || n > 255 {
			return fmt.Errorf("invalid octet %d in %q", n, s)
		}
	}
	return nil
}

// loopbackDialect 平台相关的命令形式
type loopbackDialect struct {
	name    func(n int64) string
	command func(l LoopbackSpec) []string
	verify  string
}

var (
	ciscoLoopback = loopbackDialect{
		name: func(n int64) string { return "Loopback" + strconv.FormatInt(n, 10) },
		command: func(l LoopbackSpec) []string {
			return []string{
				fmt.Sprintf("interface Loopback%d", l.Number),
				fmt.Sprintf("ip address %s %s", l.Address, l.Mask),
				"description " + strings.TrimSpace(l.Description),
				"no shutdown",
				"exit",
			}
		},
		verify: "show ip interface brief",
	}
	vrpLoopback = loopbackDialect{
		name: func(n int64) string { return "LoopBack" + strconv.FormatInt(n, 10) },
		command: func(l LoopbackSpec) []string {
			return []string{
				fmt.Sprintf("interface LoopBack%d", l.Number),
				fmt.Sprintf("ip address %s %s", l.Address, l.Mask),
				"description " + strings.TrimSpace(l.Description),
				"quit",
			}
		},
		verify: "display ip interface brief",
	}
)

func dialectFor(platform string) loopbackDialect {
	switch parser.NormalizePlatform(platform) {
	case "huawei_vrp", "h3c_comware":
		return vrpLoopback
	}
	return ciscoLoopback
}

// LoopbackPlan 批量 loopback 配置计划
type LoopbackPlan struct {
	Platform  string         `json:"platform"`
	Loopbacks []LoopbackSpec `json:"loopbacks"`
}

// Validate 校验全部条目，编号不得重复
func (p LoopbackPlan) Validate() error {
	if len(p.Loopbacks) == 0 {
		return errors.New("loopback plan is empty")
	}
	var errs []error
	seen := map[int64]bool{}
	for _, l := range p.Loopbacks {
		if err := l.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[l.Number] {
			errs = append(errs, fmt.Errorf("loopback %d: duplicate number", l.Number))
		}
		seen[l.Number] = true
	}
	return errors.Join(errs...)
}

// Commands 展开为配置命令
func (p LoopbackPlan) Commands() ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	d := dialectFor(p.Platform)
	var out []string
	for _, l := range p.Loopbacks {
		out = append(out, d.command(l)...)
	}
	return out, nil
}

// VerifyCommand 配置后用于核对的 show 命令
func (p LoopbackPlan) VerifyCommand() string {
	return dialectFor(p.Platform).verify
}

// LoopbackCheck 单个 loopback 的核对结果
type LoopbackCheck struct {
	Interface string `json:"interface"`
	Expected  string `json:"expected"`
	Found     string `json:"found,omitempty"`
	Status    string `json:"status,omitempty"`
	OK        bool   `json:"ok"`
}

// Verify 用接口摘要的解析记录核对地址
func (p LoopbackPlan) Verify(records []parser.Record) []LoopbackCheck {
	d := dialectFor(p.Platform)
	byName := make(map[string]parser.Record, len(records))
	for _, rec := range records {
		if v, ok := rec.Get("interface"); ok {
			byName[strings.ToLower(v.String())] = rec
		}
	}
	checks := make([]LoopbackCheck, 0, len(p.Loopbacks))
	for _, l := range p.Loopbacks {
		c := LoopbackCheck{Interface: d.name(l.Number), Expected: l.Address}
		if rec, ok := byName[strings.ToLower(c.Interface)]; ok {
			if v, ok := rec.Get("address"); ok {
				c.Found = v.String()
				if i := strings.IndexByte(c.Found, '/'); i >= 0 {
					c.Found = c.Found[:i]
				}
			}
			if v, ok := rec.Get("status"); ok {
				c.Status = v.String()
			}
			c.OK = c.Found == l.Address
		}
		checks = append(checks, c)
	}
	return checks
}

// LoopbackResult 配置与核对的结果
type LoopbackResult struct {
	Config DeviceResult    `json:"config"`
	Verify DeviceResult    `json:"verify"`
	Checks []LoopbackCheck `json:"checks"`
}

// OK 配置命令全部成功且每个 loopback 均核对通过
func (r LoopbackResult) OK() bool {
	if r.Config.Error != nil || r.Verify.Error != nil {
		return false
	}
	for _, c := range r.Config.Commands {
		if !c.Success {
			return false
		}
	}
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return len(r.Checks) > 0
}

// ApplyLoopbacks 下发 loopback 配置后执行接口摘要并核对
func (r *Runner) ApplyLoopbacks(ctx context.Context, t Target, plan LoopbackPlan, abortOnFailure bool) (LoopbackResult, error) {
	if plan.Platform == "" {
		plan.Platform = t.Platform
	}
	cmds, err := plan.Commands()
	if err != nil {
		return LoopbackResult{}, err
	}
	var res LoopbackResult
	res.Config = r.Run(ctx, t, Job{Commands: cmds, Mode: driver.Config, Policy: dispatch.Policy{AbortOnFirstFailure: abortOnFailure}})
	if res.Config.Error != nil && res.Config.Error.Code != "ABORTED" {
		return res, nil
	}
	res.Verify = r.Run(ctx, t, Job{Commands: []string{plan.VerifyCommand()}, Mode: driver.Exec, Parse: true})
	if len(res.Verify.Commands) == 1 {
		res.Checks = plan.Verify(res.Verify.Commands[0].Records)
	}
	return res, nil
}

// ApplyLoopbacksMany 在多台设备上并发下发同一计划，结果顺序与 targets 一致
func (r *Runner) ApplyLoopbacksMany(ctx context.Context, targets []Target, plan LoopbackPlan, abortOnFailure bool) ([]LoopbackResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	out := make([]LoopbackResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency())
	for i, t := range targets {
		g.Go(func() error {
			res, err := r.ApplyLoopbacks(gctx, t, plan, abortOnFailure)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}
