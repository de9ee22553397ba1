package cisco_ios

import (
	"time"

	"github.com/sshcollectorpro/netauto/addone/interact"
	"github.com/sshcollectorpro/netauto/internal/driver"
)

// Plugin 为 cisco_ios 平台交互插件
type Plugin struct{}

func (p *Plugin) Name() string { return "cisco_ios" }

func (p *Plugin) Defaults() interact.InteractDefaults {
	// Cisco IOS 的 show running-config 等命令较慢，总超时放宽
	return interact.InteractDefaults{
		IdleTimeout:    15 * time.Second,
		CommandTimeout: 60 * time.Second,
		Retries:        2,
		Concurrent:     5,
	}
}

func (p *Plugin) Profile() driver.Profile {
	prof := driver.Generic()
	prof.Platform = "cisco_ios"
	prof.PagingCommands = []string{"terminal length 0"}
	prof.ErrorPatterns = append(prof.ErrorPatterns,
		`(?i)^%\s*bad mask`,
		`(?i)^%\s*.*overlaps with`,
	)
	prof.AutoInteractions = []driver.AutoInteraction{
		{Expect: `\[confirm\]\s*$`},
		{Expect: `(?i)destination filename \[[^\]]*\]\?\s*$`},
	}
	prof.IdleTimeout = 0
	prof.CommandTimeout = 0
	return prof
}

func init() {
	// 注册到交互插件中心
	interact.Register("cisco_ios", &Plugin{})
}
