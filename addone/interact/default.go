package interact

import (
	"time"

	"github.com/sshcollectorpro/netauto/internal/driver"
)

// InteractDefaults 平台默认运行参数
type InteractDefaults struct {
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	// Retries 建连超时后的重试次数，认证失败从不重试
	Retries int
	// Concurrent 多设备并发时的建议上限
	Concurrent int
}

// InteractPlugin 平台交互插件
type InteractPlugin interface {
	// Name 插件名称（如：default、cisco_ios、huawei_vrp）
	Name() string
	// Defaults 返回插件的默认运行参数
	Defaults() InteractDefaults
	// Profile 返回该平台的提示符、模式切换与错误识别参数
	Profile() driver.Profile
}

// DefaultPlugin 系统默认交互插件，Cisco 风格
type DefaultPlugin struct{}

func (p *DefaultPlugin) Name() string { return "default" }

func (p *DefaultPlugin) Defaults() InteractDefaults {
	return InteractDefaults{
		IdleTimeout:    10 * time.Second,
		CommandTimeout: 30 * time.Second,
		Retries:        1,
		Concurrent:     5,
	}
}

func (p *DefaultPlugin) Profile() driver.Profile {
	prof := driver.Generic()
	prof.Platform = "default"
	return prof
}
