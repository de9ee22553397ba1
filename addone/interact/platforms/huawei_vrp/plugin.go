package huawei_vrp

import (
	"time"

	"github.com/sshcollectorpro/netauto/addone/interact"
	"github.com/sshcollectorpro/netauto/internal/driver"
)

// Plugin 为 huawei_vrp 平台交互插件（S/CE/AR 系列）
type Plugin struct{}

func (p *Plugin) Name() string { return "huawei_vrp" }

func (p *Plugin) Defaults() interact.InteractDefaults {
	return interact.InteractDefaults{
		IdleTimeout:    10 * time.Second,
		CommandTimeout: 45 * time.Second,
		Retries:        2,
		Concurrent:     5,
	}
}

// Profile 用户视图 <HOST> 即可执行 display，视为特权模式；系统视图 [HOST] 为配置模式
func (p *Plugin) Profile() driver.Profile {
	return driver.Profile{
		Platform:             "huawei_vrp",
		PrivilegedPrompt:     `^<[~*]?[\w.\-/:@]+>\s*$`,
		ConfigPrompt:         `^\[[~*]?[\w.\-/:@]+\]\s*$`,
		ConfigEnterCommand:   "system-view",
		ConfigExitCommand:    "return",
		LogoutCommand:        "quit",
		SaveCommand:          "save",
		BackupCommand:        "display current-configuration",
		UsernamePrompt:       `(?i)(user ?name|login):\s*$`,
		PasswordPrompt:       `(?i)password:\s*$`,
		LoginFailPatterns:    []string{`(?i)authentication fail`, `(?i)access denied`},
		PagingCommands:       []string{"screen-length 0 temporary"},
		ContinuationPattern:  `(?i)-+\s*more\s*-+`,
		ContinuationResponse: " ",
		AutoInteractions: []driver.AutoInteraction{
			{Expect: `(?i)\[y/n\]:?\s*$`, Send: "y"},
			{Expect: `(?i)\(yes/no\)\s*[:?]?\s*$`, Send: "yes"},
		},
		ErrorPatterns: []string{
			`(?i)^error:`,
			`(?i)unrecognized command`,
			`(?i)^%?\s*incomplete command`,
			`(?i)^%?\s*too many parameters`,
		},
		HostnameCommand: `^sysname\s+(\S+)`,
		LineEnding:      "\n",
	}
}

func init() {
	interact.Register("huawei_vrp", &Plugin{})
}
