package driver

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AutoInteraction 输出命中 Expect 时自动发送 Send
type AutoInteraction struct {
	Expect string `mapstructure:"expect" json:"expect" yaml:"expect"`
	Send   string `mapstructure:"send" json:"send" yaml:"send"`
	// Raw 为 true 时不追加换行
	Raw bool `mapstructure:"raw" json:"raw" yaml:"raw"`
}

// Profile 平台交互参数
type Profile struct {
	Platform string

	// 各模式提示符正则（匹配最后一行）
	ExecPrompt       string
	PrivilegedPrompt string
	ConfigPrompt     string

	EnableCommand        string
	EnablePasswordPrompt string
	DisableCommand       string
	ConfigEnterCommand   string
	ConfigExitCommand    string
	LogoutCommand        string
	// SaveCommand 特权模式下保存运行配置；BackupCommand 输出完整运行配置
	SaveCommand   string
	BackupCommand string

	// 带内登录（部分设备在 shell 中再次询问用户名密码）
	UsernamePrompt    string
	PasswordPrompt    string
	LoginFailPatterns []string

	PagingCommands       []string
	ContinuationPattern  string
	ContinuationResponse string
	AutoInteractions     []AutoInteraction
	ErrorPatterns        []string
	// HostnameCommand 匹配修改主机名的命令，第一个捕获组为新主机名
	HostnameCommand string

	Charset    string
	LineEnding string

	IdleTimeout    time.Duration
	CommandTimeout time.Duration
}

// Clone 深拷贝
func (p Profile) Clone() Profile {
	c := p
	c.LoginFailPatterns = append([]string(nil), p.LoginFailPatterns...)
	c.PagingCommands = append([]string(nil), p.PagingCommands...)
	c.AutoInteractions = append([]AutoInteraction(nil), p.AutoInteractions...)
	c.ErrorPatterns = append([]string(nil), p.ErrorPatterns...)
	return c
}

// Generic Cisco 风格的默认平台参数
func Generic() Profile {
	return Profile{
		Platform:             "generic",
		ExecPrompt:           `^[\w.\-/:@]+>\s*$`,
		PrivilegedPrompt:     `^[\w.\-/:@]+#\s*$`,
		ConfigPrompt:         `^[\w.\-/:@]+\(conf[^)]*\)#\s*$`,
		EnableCommand:        "enable",
		EnablePasswordPrompt: `(?i)password:\s*$`,
		DisableCommand:       "disable",
		ConfigEnterCommand:   "configure terminal",
		ConfigExitCommand:    "end",
		LogoutCommand:        "exit",
		SaveCommand:          "write memory",
		BackupCommand:        "show running-config",
		UsernamePrompt:       `(?i)(user ?name|login):\s*$`,
		PasswordPrompt:       `(?i)password:\s*$`,
		LoginFailPatterns:    []string{`(?i)authentication failed`, `(?i)login invalid`, `(?i)access denied`},
		ContinuationPattern:  `(?i)-+\s*more\s*-+`,
		ContinuationResponse: " ",
		ErrorPatterns: []string{
			`(?i)^%\s*invalid input`,
			`(?i)^%\s*incomplete command`,
			`(?i)^%\s*ambiguous command`,
			`(?i)^%\s*unknown command`,
		},
		HostnameCommand: `^hostname\s+(\S+)`,
		LineEnding:      "\n",
		IdleTimeout:     10 * time.Second,
		CommandTimeout:  60 * time.Second,
	}
}

// compiledProfile 预编译后的正则
type compiledProfile struct {
	modes          [4]*regexp.Regexp
	enablePassword *regexp.Regexp
	username       *regexp.Regexp
	password       *regexp.Regexp
	loginFail      []*regexp.Regexp
	continuation   *regexp.Regexp
	auto           []compiledInteraction
	errors         []*regexp.Regexp
	hostname       *regexp.Regexp
}

type compiledInteraction struct {
	expect *regexp.Regexp
	send   string
	raw    bool
}

func compileOptional(field, expr string) (*regexp.Regexp, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", field, err)
	}
	return re, nil
}

func compileList(field string, exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := compileOptional(field, e)
		if err != nil {
			return nil, err
		}
		if re != nil {
			out = append(out, re)
		}
	}
	return out, nil
}

func (p *Profile) compile() (*compiledProfile, error) {
	c := &compiledProfile{}
	var err error
	if c.modes[Exec], err = compileOptional("exec_prompt", p.ExecPrompt); err != nil {
		return nil, err
	}
	if c.modes[Privileged], err = compileOptional("privileged_prompt", p.PrivilegedPrompt); err != nil {
		return nil, err
	}
	if c.modes[Config], err = compileOptional("config_prompt", p.ConfigPrompt); err != nil {
		return nil, err
	}
	if c.modes[Exec] == nil && c.modes[Privileged] == nil {
		return nil, fmt.Errorf("profile %s: no exec or privileged prompt pattern", p.Platform)
	}
	if c.enablePassword, err = compileOptional("enable_password_prompt", p.EnablePasswordPrompt); err != nil {
		return nil, err
	}
	if c.username, err = compileOptional("username_prompt", p.UsernamePrompt); err != nil {
		return nil, err
	}
	if c.password, err = compileOptional("password_prompt", p.PasswordPrompt); err != nil {
		return nil, err
	}
	if c.loginFail, err = compileList("login_fail_patterns", p.LoginFailPatterns); err != nil {
		return nil, err
	}
	if c.continuation, err = compileOptional("continuation_pattern", p.ContinuationPattern); err != nil {
		return nil, err
	}
	if c.errors, err = compileList("error_patterns", p.ErrorPatterns); err != nil {
		return nil, err
	}
	if c.hostname, err = compileOptional("hostname_command", p.HostnameCommand); err != nil {
		return nil, err
	}
	for _, ai := range p.AutoInteractions {
		re, err := compileOptional("auto_interactions", ai.Expect)
		if err != nil {
			return nil, err
		}
		if re != nil {
			c.auto = append(c.auto, compiledInteraction{expect: re, send: ai.Send, raw: ai.Raw})
		}
	}
	return c, nil
}

// Validate 检查正则是否可编译
func (p *Profile) Validate() error {
	_, err := p.compile()
	return err
}

// errorLine 返回第一条命中错误模式的行
func (c *compiledProfile) errorLine(output string) (string, bool) {
	if len(c.errors) == 0 {
		return "", false
	}
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		for _, re := range c.errors {
			if re.MatchString(trimmed) {
				return trimmed, true
			}
		}
	}
	return "", false
}
