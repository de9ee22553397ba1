package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/report"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// BackupResult 单台设备的运行配置备份
type BackupResult struct {
	Device   string               `json:"device"`
	Host     string               `json:"host"`
	Platform string               `json:"platform"`
	Command  string               `json:"command,omitempty"`
	Object   *report.StoredObject `json:"stored_object,omitempty"`
	Error    *ErrorInfo           `json:"error,omitempty"`
	Elapsed  time.Duration        `json:"elapsed"`
}

// OK 备份已写入存储
func (r BackupResult) OK() bool { return r.Error == nil && r.Object != nil }

// BackupReport 一次多设备备份
type BackupReport struct {
	RunID   string         `json:"run_id"`
	Started time.Time      `json:"started"`
	Elapsed time.Duration  `json:"elapsed"`
	Devices []BackupResult `json:"devices"`
}

// Summary 成功率汇总
func (r BackupReport) Summary() report.SummaryLine {
	out := make([]report.DeviceOutcome, len(r.Devices))
	for i, d := range r.Devices {
		out[i] = report.DeviceOutcome{Device: d.Device, Commands: 1}
		if d.Error != nil {
			out[i].Failed = 1
			out[i].Error = d.Error.Message
		}
	}
	return report.Summary(out)
}

// BackupPrefix 备份文件名前缀
func BackupPrefix(device string) string {
	return "backup_" + device
}

// Backup 在特权模式下读取运行配置并写入存储
func (r *Runner) Backup(ctx context.Context, t Target, sink report.Sink, ts time.Time) BackupResult {
	start := time.Now()
	platform := parser.NormalizePlatform(t.Platform)
	if platform == "" {
		platform = "default"
	}
	res := BackupResult{Device: t.label(), Host: t.Host, Platform: platform}
	log := logger.ForDevice(res.Device, platform)

	fail := func(err error) BackupResult {
		res.Error = errorInfo(err)
		res.Elapsed = time.Since(start)
		log.WithField("code", res.Error.Code).Warnf("backup failed: %v", err)
		return res
	}

	res.Command = strings.TrimSpace(r.Profile(platform).BackupCommand)
	if res.Command == "" {
		return fail(fmt.Errorf("%w: %s", ErrBackupUnsupported, platform))
	}
	dr := r.Run(ctx, t, Job{Commands: []string{res.Command}, Mode: driver.Privileged})
	if dr.Error != nil {
		res.Error = dr.Error
		res.Elapsed = time.Since(start)
		return res
	}
	if len(dr.Commands) != 1 || !dr.Commands[0].Success {
		msg := "no output"
		if len(dr.Commands) == 1 {
			msg = dr.Commands[0].Error
		}
		return fail(fmt.Errorf("%q: %s", res.Command, msg))
	}
	content := strings.TrimRight(dr.Commands[0].Output, "\r\n") + "\n"

	obj, err := report.PublishText(ctx, sink, BackupPrefix(res.Device), ts, content, "cfg")
	var fe *report.FallbackError
	if errors.As(err, &fe) {
		log.Warnf("backup stored on fallback sink: %v", fe.Primary)
		obj, err = fe.Object, nil
	}
	if err != nil {
		return fail(err)
	}
	res.Object = &obj
	res.Elapsed = time.Since(start)
	log.WithField("uri", obj.URI).Infof("backup stored (%d bytes)", obj.Size)
	return res
}

// BackupMany 并发备份，结果顺序与 targets 一致，同一批次使用同一时间戳
func (r *Runner) BackupMany(ctx context.Context, targets []Target, sink report.Sink) (BackupReport, error) {
	rep := BackupReport{RunID: uuid.NewString(), Started: time.Now(), Devices: make([]BackupResult, len(targets))}
	if sink == nil {
		return rep, fmt.Errorf("backup %s: no storage sink", rep.RunID)
	}
	log := logger.WithFields(logrus.Fields{"run_id": rep.RunID, "devices": len(targets)})
	log.Info("backup started")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency())
	for i, t := range targets {
		g.Go(func() error {
			rep.Devices[i] = r.Backup(gctx, t, sink, rep.Started)
			return nil
		})
	}
	_ = g.Wait()
	rep.Elapsed = time.Since(rep.Started)
	log.WithField("elapsed", rep.Elapsed.String()).Info(rep.Summary().String())
	return rep, ctx.Err()
}
