package h3c_comware

import (
	"time"

	"github.com/sshcollectorpro/netauto/addone/interact"
	"github.com/sshcollectorpro/netauto/internal/driver"
)

// Plugin 为 h3c_comware 平台交互插件（H3C S/SR/MSR 系列）
type Plugin struct{}

func (p *Plugin) Name() string { return "h3c_comware" }

func (p *Plugin) Defaults() interact.InteractDefaults {
	return interact.InteractDefaults{
		IdleTimeout:    10 * time.Second,
		CommandTimeout: 45 * time.Second,
		Retries:        2,
		Concurrent:     5,
	}
}

func (p *Plugin) Profile() driver.Profile {
	return driver.Profile{
		Platform:             "h3c_comware",
		PrivilegedPrompt:     `^<[\w.\-/:@]+>\s*$`,
		ConfigPrompt:         `^\[[\w.\-/:@]+\]\s*$`,
		ConfigEnterCommand:   "system-view",
		ConfigExitCommand:    "return",
		LogoutCommand:        "quit",
		SaveCommand:          "save",
		BackupCommand:        "display current-configuration",
		UsernamePrompt:       `(?i)(user ?name|login):\s*$`,
		PasswordPrompt:       `(?i)password:\s*$`,
		LoginFailPatterns:    []string{`(?i)authentication failed`, `(?i)access denied`},
		PagingCommands:       []string{"screen-length disable"},
		ContinuationPattern:  `(?i)-+\s*more\s*-+`,
		ContinuationResponse: " ",
		AutoInteractions: []driver.AutoInteraction{
			{Expect: `(?i)\[y/n\]:?\s*$`, Send: "y"},
		},
		ErrorPatterns: []string{
			`(?i)^%\s*unrecognized command`,
			`(?i)^%\s*incomplete command`,
			`(?i)^%\s*too many parameters`,
			`(?i)^%\s*wrong parameter`,
		},
		HostnameCommand: `^sysname\s+(\S+)`,
		LineEnding:      "\n",
	}
}

func init() {
	interact.Register("h3c_comware", &Plugin{})
}
