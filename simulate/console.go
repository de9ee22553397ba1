package simulate

import (
	"fmt"
	"strings"
)

type cliMode int

const (
	modeLogin cliMode = iota
	modeUser
	modePriv
	modeConfig
	modeInterface
)

const moreMarker = " --More-- "

// Console 一个连接上的 CLI 状态机：按字节输入，返回应写回的字节
type Console struct {
	dev      *Device
	hostname string
	mode     cliMode
	iface    string
	paging   bool

	line   []byte
	lastCR bool

	awaitingUser     bool
	awaitingPassword bool
	awaitingEnable   bool
	awaitingSave     bool
	loginUser        string

	more   []string
	hung   bool
	closed bool
}

// NewConsole 创建控制台
func NewConsole(dev *Device) *Console {
	c := &Console{dev: dev, hostname: dev.Hostname, paging: dev.PageLines > 0}
	switch {
	case dev.InBandLogin:
		c.mode = modeLogin
		c.awaitingUser = true
	case dev.StartPrivileged || dev.Flavor == FlavorHuawei:
		c.mode = modePriv
	default:
		c.mode = modeUser
	}
	return c
}

// Closed 会话是否已退出
func (c *Console) Closed() bool { return c.closed }

// Greeting 连接建立后的首屏输出
func (c *Console) Greeting() []byte {
	var b strings.Builder
	if c.dev.Banner != "" {
		b.WriteString(crlf(c.dev.Banner))
	}
	if c.awaitingUser {
		b.WriteString("\r\nUser Access Verification\r\n\r\nUsername: ")
	} else {
		b.WriteString("\r\n" + c.prompt())
	}
	return []byte(b.String())
}

func (c *Console) prompt() string {
	if c.dev.Flavor == FlavorHuawei {
		switch c.mode {
		case modeConfig:
			return "[" + c.hostname + "]"
		case modeInterface:
			return "[" + c.hostname + "-" + c.iface + "]"
		}
		return "<" + c.hostname + ">"
	}
	switch c.mode {
	case modeUser:
		return c.hostname + ">"
	case modeConfig:
		return c.hostname + "(config)#"
	case modeInterface:
		return c.hostname + "(config-if)#"
	}
	return c.hostname + "#"
}

// Feed 处理客户端输入
func (c *Console) Feed(p []byte) []byte {
	var out strings.Builder
	for _, b := range p {
		if c.closed || c.hung {
			break
		}
		if len(c.more) > 0 {
			out.WriteString(c.nextPage(b))
			continue
		}
		switch b {
		case '\r', '\n':
			if b == '\n' && c.lastCR {
				c.lastCR = false
				continue
			}
			c.lastCR = b == '\r'
			line := string(c.line)
			c.line = c.line[:0]
			out.WriteString(c.handleLine(line))
		case 0x7f, '\b':
			c.lastCR = false
			if len(c.line) > 0 {
				c.line = c.line[:len(c.line)-1]
			}
		default:
			c.lastCR = false
			c.line = append(c.line, b)
		}
	}
	return []byte(out.String())
}

func (c *Console) nextPage(b byte) string {
	erase := strings.Repeat("\b", len(moreMarker)) + strings.Repeat(" ", len(moreMarker)) + strings.Repeat("\b", len(moreMarker))
	if b == 'q' || b == 'Q' {
		c.more = nil
		return erase + c.prompt()
	}
	return erase + c.page(c.more)
}

// page 输出一页，剩余部分等待 --More--
func (c *Console) page(lines []string) string {
	n := len(lines)
	if c.paging && c.dev.PageLines > 0 && n > c.dev.PageLines {
		n = c.dev.PageLines
	}
	var b strings.Builder
	for _, l := range lines[:n] {
		b.WriteString(l + "\r\n")
	}
	if n < len(lines) {
		c.more = lines[n:]
		b.WriteString(moreMarker)
		return b.String()
	}
	c.more = nil
	b.WriteString(c.prompt())
	return b.String()
}

func (c *Console) respond(output string) string {
	output = strings.TrimRight(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if output == "" {
		return c.prompt()
	}
	return c.page(strings.Split(output, "\n"))
}

func (c *Console) handleLine(line string) string {
	switch {
	case c.awaitingUser:
		c.awaitingUser, c.awaitingPassword = false, true
		c.loginUser = strings.TrimSpace(line)
		return line + "\r\nPassword: "
	case c.awaitingPassword:
		c.awaitingPassword = false
		if c.loginUser != c.dev.Username || line != c.dev.Password {
			c.closed = true
			return "\r\n% Authentication failed\r\n"
		}
		c.mode = modeUser
		if c.dev.StartPrivileged || c.dev.Flavor == FlavorHuawei {
			c.mode = modePriv
		}
		return "\r\n\r\n" + c.prompt()
	case c.awaitingEnable:
		c.awaitingEnable = false
		if line != c.dev.EnableSecret {
			return "\r\n% Bad secrets\r\n\r\n" + c.prompt()
		}
		c.mode = modePriv
		return "\r\n" + c.prompt()
	case c.awaitingSave:
		c.awaitingSave = false
		echo := line + "\r\n"
		if ans := strings.ToLower(strings.TrimSpace(line)); ans != "y" && ans != "yes" {
			return echo + c.respond("Info: The operation is canceled.")
		}
		c.dev.markSaved()
		return echo + c.respond("Now saving the current configuration to the slot 0.\nInfo: Save the configuration successfully.")
	}

	echo := line + "\r\n"
	cmd := strings.TrimSpace(line)
	if cmd == "" {
		return echo + c.prompt()
	}
	if c.dev.hasPrefix(c.dev.Hang, cmd) {
		c.hung = true
		return echo
	}
	if c.dev.Flavor == FlavorHuawei {
		return echo + c.huawei(cmd)
	}
	return echo + c.cisco(cmd)
}

func (c *Console) invalid(cmd string) string {
	if c.dev.Flavor == FlavorHuawei {
		return c.respond(strings.Repeat(" ", len(c.prompt())) + "^\nError: Unrecognized command found at '^' position.")
	}
	return c.respond(strings.Repeat(" ", len(c.prompt())) + "^\n% Invalid input detected at '^' marker.\n")
}

func (c *Console) lookup(cmd string) (string, bool) {
	if out, ok := c.dev.Commands[normalize(cmd)]; ok {
		return out, true
	}
	switch normalize(cmd) {
	case "show ip interface brief", "sh ip int br", "show ip int brief", "display ip interface brief", "dis ip int br":
		return c.dev.showIPBrief(), true
	case "show version", "sh ver", "display version", "dis ver":
		return c.dev.showVersion(c.hostname), true
	case "show running-config", "sh run", "display current-configuration":
		if c.mode == modeUser {
			return "", false
		}
		return c.dev.showRunning(c.hostname), true
	}
	return "", false
}

func (c *Console) cisco(cmd string) string {
	n := normalize(cmd)
	fields := strings.Fields(cmd)

	switch c.mode {
	case modeUser, modePriv:
		switch {
		case n == "exit" || n == "logout" || n == "quit":
			c.closed = true
			return ""
		case n == "terminal length 0" || n == "term len 0":
			c.paging = false
			return c.prompt()
		case n == "enable" && c.mode == modeUser:
			if c.dev.EnableSecret == "" {
				c.mode = modePriv
				return c.prompt()
			}
			c.awaitingEnable = true
			return "Password: "
		case n == "enable":
			return c.prompt()
		case n == "disable" && c.mode == modePriv:
			c.mode = modeUser
			return c.prompt()
		case (n == "configure terminal" || n == "conf t" || n == "configure") && c.mode == modePriv:
			c.mode = modeConfig
			return "Enter configuration commands, one per line.  End with CNTL/Z.\r\n" + c.prompt()
		case n == "write memory" || n == "wr" || n == "copy running-config startup-config":
			if c.mode != modePriv {
				return c.invalid(cmd)
			}
			c.dev.markSaved()
			return c.respond("Building configuration...\n[OK]")
		}
		if out, ok := c.lookup(cmd); ok {
			return c.respond(out)
		}
		return c.invalid(cmd)
	}

	// 配置模式
	switch {
	case n == "end":
		c.mode, c.iface = modePriv, ""
		return c.prompt()
	case n == "exit":
		if c.mode == modeInterface {
			c.mode, c.iface = modeConfig, ""
		} else {
			c.mode = modePriv
		}
		return c.prompt()
	case strings.HasPrefix(n, "do "):
		saved := c.mode
		c.mode = modePriv
		out, ok := c.lookup(strings.TrimSpace(cmd[3:]))
		c.mode = saved
		if !ok {
			return c.invalid(cmd)
		}
		return c.respond(out)
	case c.dev.hasPrefix(c.dev.Rejected, cmd):
		return c.invalid(cmd)
	case len(fields) >= 2 && strings.EqualFold(fields[0], "hostname"):
		c.hostname = fields[1]
		return c.prompt()
	case len(fields) >= 2 && strings.EqualFold(fields[0], "interface"):
		c.iface = canonicalInterface(c.dev.Flavor, fields[1:])
		c.dev.updateInterface(c.iface, func(*Interface) {})
		c.mode = modeInterface
		return c.prompt()
	}
	if c.mode == modeInterface {
		c.applyInterface(fields)
		return c.prompt()
	}
	c.dev.record(cmd)
	return c.prompt()
}

func (c *Console) applyInterface(fields []string) {
	name := c.iface
	switch {
	case len(fields) >= 4 && strings.EqualFold(fields[0], "ip") && strings.EqualFold(fields[1], "address"):
		c.dev.updateInterface(name, func(i *Interface) { i.Address, i.Mask = fields[2], fields[3] })
	case len(fields) >= 2 && strings.EqualFold(fields[0], "description"):
		desc := strings.Join(fields[1:], " ")
		c.dev.updateInterface(name, func(i *Interface) { i.Description = desc })
	case len(fields) == 2 && strings.EqualFold(fields[0], "no") && strings.EqualFold(fields[1], "shutdown"):
		c.dev.updateInterface(name, func(i *Interface) { i.Status, i.Protocol = "up", "up" })
	case len(fields) == 1 && strings.EqualFold(fields[0], "shutdown"):
		c.dev.updateInterface(name, func(i *Interface) { i.Status, i.Protocol = "administratively down", "down" })
	default:
		c.dev.record(fmt.Sprintf("interface %s %s", name, strings.Join(fields, " ")))
	}
}

func (c *Console) huawei(cmd string) string {
	n := normalize(cmd)
	fields := strings.Fields(cmd)

	if c.mode == modePriv {
		switch {
		case n == "quit":
			c.closed = true
			return ""
		case n == "screen-length 0 temporary":
			c.paging = false
			return c.respond("Info: The configuration takes effect on the current user terminal interface only.")
		case n == "system-view" || n == "sys":
			c.mode = modeConfig
			return "Enter system view, return user view with Ctrl+Z.\r\n" + c.prompt()
		case n == "save":
			c.awaitingSave = true
			return "The current configuration will be written to the device.\r\nAre you sure to continue?[Y/N]:"
		}
		if out, ok := c.lookup(cmd); ok {
			return c.respond(out)
		}
		return c.invalid(cmd)
	}

	switch {
	case n == "return":
		c.mode, c.iface = modePriv, ""
		return c.prompt()
	case n == "quit":
		if c.mode == modeInterface {
			c.mode, c.iface = modeConfig, ""
		} else {
			c.mode = modePriv
		}
		return c.prompt()
	case c.dev.hasPrefix(c.dev.Rejected, cmd):
		return c.invalid(cmd)
	case len(fields) >= 2 && strings.EqualFold(fields[0], "sysname"):
		c.hostname = fields[1]
		return c.prompt()
	case len(fields) >= 2 && strings.EqualFold(fields[0], "interface"):
		c.iface = canonicalInterface(c.dev.Flavor, fields[1:])
		c.dev.updateInterface(c.iface, func(*Interface) {})
		c.mode = modeInterface
		return c.prompt()
	}
	if c.mode == modeInterface {
		switch {
		case len(fields) >= 4 && strings.EqualFold(fields[0], "ip") && strings.EqualFold(fields[1], "address"):
			c.dev.updateInterface(c.iface, func(i *Interface) { i.Address, i.Mask = fields[2], fields[3] })
		case n == "undo shutdown":
			c.dev.updateInterface(c.iface, func(i *Interface) { i.Status, i.Protocol = "up", "up" })
		case n == "shutdown":
			c.dev.updateInterface(c.iface, func(i *Interface) { i.Status, i.Protocol = "administratively down", "down" })
		case len(fields) >= 2 && strings.EqualFold(fields[0], "description"):
			desc := strings.Join(fields[1:], " ")
			c.dev.updateInterface(c.iface, func(i *Interface) { i.Description = desc })
		default:
			c.dev.record(fmt.Sprintf("interface %s %s", c.iface, cmd))
		}
		return c.prompt()
	}
	c.dev.record(cmd)
	return c.prompt()
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}
