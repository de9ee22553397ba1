package simulate

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
)

// Flavor 命令行风格
type Flavor string

const (
	FlavorCisco  Flavor = "cisco"
	FlavorHuawei Flavor = "huawei"
)

// Interface 模拟接口
type Interface struct {
	Name        string
	Address     string
	Mask        string
	Status      string
	Protocol    string
	Description string
}

// Device 模拟设备定义，多个连接共享同一份配置状态
type Device struct {
	Hostname     string
	Flavor       Flavor
	Username     string
	Password     string
	EnableSecret string
	// StartPrivileged 登录后直接进入特权模式（privilege 15）
	StartPrivileged bool
	// InBandLogin 传输层不认证，在 shell 中询问用户名密码
	InBandLogin bool
	Banner      string
	Version     string
	Model       string
	Serial      string
	Uptime      string

	// Commands 固定输出，键为规范化后的命令
	Commands map[string]string
	// Rejected 配置模式下被拒绝的命令前缀
	Rejected []string
	// Hang 执行后不再返回提示符的命令
	Hang []string
	// PageLines 分页行数，0 表示不分页
	PageLines int

	mu         sync.Mutex
	interfaces []Interface
	running    []string
	saves      int
}

// NewCiscoDevice 带默认接口的 Cisco 风格设备
func NewCiscoDevice(hostname string) *Device {
	return &Device{
		Hostname: hostname,
		Flavor:   FlavorCisco,
		Username: "admin",
		Password: "admin",
		Version:  "15.2(4)M7",
		Model:    "CISCO2911/K9",
		Serial:   "FTX1840ALBY",
		Uptime:   "2 weeks, 3 days, 4 hours, 5 minutes",
		interfaces: []Interface{
			{Name: "GigabitEthernet0/0", Address: "10.0.0.1", Mask: "255.255.255.0", Status: "up", Protocol: "up"},
			{Name: "GigabitEthernet0/1", Status: "administratively down", Protocol: "down"},
		},
	}
}

// NewHuaweiDevice 带默认接口的华为风格设备
func NewHuaweiDevice(hostname string) *Device {
	return &Device{
		Hostname:        hostname,
		Flavor:          FlavorHuawei,
		Username:        "admin",
		Password:        "admin",
		StartPrivileged: true,
		Version:         "5.170 (S5720 V200R011C10SPC500)",
		Model:           "S5720-28X-SI-AC",
		Uptime:          "12 days, 3 hours, 4 minutes",
		interfaces: []Interface{
			{Name: "Vlanif1", Address: "192.168.1.253", Mask: "255.255.255.0", Status: "up", Protocol: "up"},
			{Name: "MEth0/0/1", Status: "down", Protocol: "down"},
		},
	}
}

// SetInterfaces 替换接口表
func (d *Device) SetInterfaces(ifs []Interface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interfaces = append([]Interface(nil), ifs...)
}

// Interfaces 当前接口表
func (d *Device) Interfaces() []Interface {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Interface(nil), d.interfaces...)
}

// RunningConfig 已接受的配置命令
func (d *Device) RunningConfig() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.running...)
}

// Saves 配置被保存的次数
func (d *Device) Saves() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saves
}

func (d *Device) markSaved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saves++
}

func (d *Device) record(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = append(d.running, line)
}

func (d *Device) updateInterface(name string, fn func(*Interface)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.interfaces {
		if strings.EqualFold(d.interfaces[i].Name, name) {
			fn(&d.interfaces[i])
			return
		}
	}
	ifc := Interface{Name: name, Status: "administratively down", Protocol: "down"}
	if d.Flavor == FlavorHuawei || strings.HasPrefix(strings.ToLower(name), "loopback") {
		ifc.Status, ifc.Protocol = "up", "up"
	}
	fn(&ifc)
	d.interfaces = append(d.interfaces, ifc)
}

func normalize(cmd string) string {
	return strings.ToLower(strings.Join(strings.Fields(cmd), " "))
}

func (d *Device) hasPrefix(list []string, cmd string) bool {
	n := normalize(cmd)
	for _, p := range list {
		if p != "" && strings.HasPrefix(n, normalize(p)) {
			return true
		}
	}
	return false
}

// canonicalInterface 把 "loopback 100" 规范为 "Loopback100"
func canonicalInterface(flavor Flavor, args []string) string {
	name := strings.Join(args, "")
	if name == "" {
		return ""
	}
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "loopback") {
		if flavor == FlavorHuawei {
			return "LoopBack" + name[len("loopback"):]
		}
		return "Loopback" + name[len("loopback"):]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func prefixLen(mask string) int {
	ip := net.ParseIP(mask).To4()
	if ip == nil {
		return 32
	}
	ones, _ := net.IPMask(ip).Size()
	return ones
}

func (d *Device) showIPBrief() string {
	ifs := d.Interfaces()
	sort.SliceStable(ifs, func(i, j int) bool { return ifs[i].Name < ifs[j].Name })
	var b strings.Builder
	if d.Flavor == FlavorHuawei {
		up, down, pUp, pDown := 0, 0, 0, 0
		for _, ifc := range ifs {
			if ifc.Status == "up" {
				up++
			} else {
				down++
			}
			if ifc.Protocol == "up" {
				pUp++
			} else {
				pDown++
			}
		}
		b.WriteString("*down: administratively down\n^down: standby\n(l): loopback\n(s): spoofing\n")
		fmt.Fprintf(&b, "The number of interface that is UP in Physical is %d\n", up)
		fmt.Fprintf(&b, "The number of interface that is DOWN in Physical is %d\n", down)
		fmt.Fprintf(&b, "The number of interface that is UP in Protocol is %d\n", pUp)
		fmt.Fprintf(&b, "The number of interface that is DOWN in Protocol is %d\n\n", pDown)
		fmt.Fprintf(&b, "%-33s %-20s %-10s %-10s\n", "Interface", "IP Address/Mask", "Physical", "Protocol")
		for _, ifc := range ifs {
			addr := "unassigned"
			if ifc.Address != "" {
				addr = fmt.Sprintf("%s/%d", ifc.Address, prefixLen(ifc.Mask))
			}
			status := ifc.Status
			if status == "administratively down" {
				status = "*down"
			}
			fmt.Fprintf(&b, "%-33s %-20s %-10s %-10s\n", ifc.Name, addr, status, ifc.Protocol)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "%-26s %-15s %-3s %-6s %-21s %s\n", "Interface", "IP-Address", "OK?", "Method", "Status", "Protocol")
	for _, ifc := range ifs {
		addr, method := "unassigned", "unset"
		if ifc.Address != "" {
			addr, method = ifc.Address, "manual"
		}
		fmt.Fprintf(&b, "%-26s %-15s %-3s %-6s %-21s %s\n", ifc.Name, addr, "YES", method, ifc.Status, ifc.Protocol)
	}
	return b.String()
}

func (d *Device) showVersion(hostname string) string {
	if d.Flavor == FlavorHuawei {
		return fmt.Sprintf("Huawei Versatile Routing Platform Software\n"+
			"VRP (R) software, Version %s\n"+
			"Copyright (C) 2000-2018 HUAWEI TECH CO., LTD\n"+
			"HUAWEI %s Routing Switch uptime is %s\n", d.Version, d.Model, d.Uptime)
	}
	return fmt.Sprintf("Cisco IOS Software, C2900 Software (C2900-UNIVERSALK9-M), Version %s, RELEASE SOFTWARE (fc1)\n"+
		"Technical Support: http://www.cisco.com/techsupport\n"+
		"Copyright (c) 1986-2016 by Cisco Systems, Inc.\n\n"+
		"ROM: System Bootstrap, Version 15.0(1r)M15, RELEASE SOFTWARE (fc1)\n\n"+
		"%s uptime is %s\n"+
		"System returned to ROM by power-on\n"+
		"System image file is \"flash0:c2900-universalk9-mz.SPA.152-4.M7.bin\"\n\n"+
		"Cisco %s (revision 1.0) with 483328K/40960K bytes of memory.\n"+
		"Processor board ID %s\n"+
		"3 Gigabit Ethernet interfaces\n\n"+
		"Configuration register is 0x2102\n", d.Version, hostname, d.Uptime, d.Model, d.Serial)
}

func (d *Device) showRunning(hostname string) string {
	if d.Flavor == FlavorHuawei {
		return d.currentConfiguration(hostname)
	}
	var b strings.Builder
	b.WriteString("Building configuration...\n\nCurrent configuration:\n!\n")
	fmt.Fprintf(&b, "hostname %s\n!\n", hostname)
	for _, ifc := range d.Interfaces() {
		fmt.Fprintf(&b, "interface %s\n", ifc.Name)
		if ifc.Description != "" {
			fmt.Fprintf(&b, " description %s\n", ifc.Description)
		}
		if ifc.Address != "" {
			fmt.Fprintf(&b, " ip address %s %s\n", ifc.Address, ifc.Mask)
		} else {
			b.WriteString(" no ip address\n")
		}
		if ifc.Status == "administratively down" {
			b.WriteString(" shutdown\n")
		}
		b.WriteString("!\n")
	}
	for _, line := range d.RunningConfig() {
		b.WriteString(line + "\n")
	}
	b.WriteString("end\n")
	return b.String()
}

func (d *Device) currentConfiguration(hostname string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "!Software Version V%s\n#\nsysname %s\n#\n", d.Version, hostname)
	for _, ifc := range d.Interfaces() {
		fmt.Fprintf(&b, "interface %s\n", ifc.Name)
		if ifc.Description != "" {
			fmt.Fprintf(&b, " description %s\n", ifc.Description)
		}
		if ifc.Address != "" {
			fmt.Fprintf(&b, " ip address %s %s\n", ifc.Address, ifc.Mask)
		}
		if ifc.Status == "administratively down" {
			b.WriteString(" shutdown\n")
		}
		b.WriteString("#\n")
	}
	for _, line := range d.RunningConfig() {
		b.WriteString(line + "\n")
	}
	b.WriteString("return\n")
	return b.String()
}
