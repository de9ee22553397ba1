// Package bootstrap 按配置组装模板注册表、数据库、凭据、会话执行器与报表存储
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	_ "github.com/sshcollectorpro/netauto/addone/interact/platforms/cisco_ios"
	_ "github.com/sshcollectorpro/netauto/addone/interact/platforms/h3c_comware"
	_ "github.com/sshcollectorpro/netauto/addone/interact/platforms/huawei_vrp"
	"github.com/sshcollectorpro/netauto/addone/templates"
	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/internal/credential"
	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/report"
	"github.com/sshcollectorpro/netauto/internal/service"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	"gorm.io/gorm"
)

// Options 组装选项
type Options struct {
	// Database 打开 SQLite（设备清单、数据库模板）
	Database bool
	// Interactive 凭据缺失时在终端询问
	Interactive bool
	Username    string
	// Dialer 为空时使用 SSH
	Dialer driver.Dialer
	// Console 控制台报表输出，为空时使用标准输出
	Console io.Writer
}

// App 运行期依赖
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Registry *parser.Registry
	Runner   *service.Runner
	Sink     report.Sink
}

// New 组装应用
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}
	if opts.Database || cfg.Templates.DB {
		db, err := database.Open(cfg.Database.SQLite)
		if err != nil {
			return nil, err
		}
		app.DB = db
	}

	reg, err := LoadRegistry(ctx, cfg.Templates, app.DB)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Registry = reg

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	sink, err := report.NewSink(cfg.Storage, console)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Sink = sink

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &driver.SSHDialer{Config: cfg.SSH.Client()}
	}
	creds, err := Credentials(opts)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Runner = service.NewRunner(cfg, dialer, creds, reg)
	return app, nil
}

// LoadRegistry 依次加载内置模板、模板目录、数据库模板，后加载的同名命令优先
func LoadRegistry(ctx context.Context, tc config.TemplatesConfig, db *gorm.DB) (*parser.Registry, error) {
	reg := parser.NewRegistry()
	if _, err := templates.Load(reg); err != nil {
		return nil, fmt.Errorf("load embedded templates: %w", err)
	}
	if tc.Dir != "" {
		if _, err := reg.LoadDir(tc.Dir); err != nil {
			return nil, fmt.Errorf("load templates from %s: %w", tc.Dir, err)
		}
	}
	if tc.DB && db != nil {
		if _, err := reg.LoadDB(ctx, db); err != nil {
			return nil, fmt.Errorf("load templates from database: %w", err)
		}
	}
	return reg, nil
}

// Credentials 凭据链：ssh_config 别名解析地址与用户，口令取环境变量，交互模式下再询问终端
func Credentials(opts Options) (credential.Provider, error) {
	chain := credential.Chain{credential.Env{}}
	if opts.Interactive {
		chain = append(chain, credential.NewPrompt(opts.Username, true))
	}
	sc, err := credential.LoadSSHConfig(os.Getenv("NETAUTO_SSH_CONFIG"), chain)
	if err != nil {
		// ssh_config 不可用时不影响其它凭据来源
		logger.Warnf("ssh config unavailable: %v", err)
		return chain, nil
	}
	return sc, nil
}

// Targets 按筛选条件从清单文件或数据库取设备
func (a *App) Targets(ctx context.Context, f database.DeviceFilter) ([]service.Target, error) {
	if a.Config.Inventory.File == "" && a.DB == nil {
		return nil, errors.New("no inventory: set inventory.file or enable the database")
	}
	return service.LoadTargets(ctx, a.Config.Inventory.File, a.DB, f)
}

// Close 释放会话池与数据库
func (a *App) Close() error {
	var errs []error
	if a.Runner != nil {
		errs = append(errs, a.Runner.Close())
	}
	if a.DB != nil {
		errs = append(errs, database.Close(a.DB))
	}
	return errors.Join(errs...)
}
