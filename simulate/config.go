package simulate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Config simulate.yaml 配置结构
type Config struct {
	Listen      string                  `mapstructure:"listen"`
	HostKeyFile string                  `mapstructure:"host_key_file"`
	IdleSeconds int                     `mapstructure:"idle_seconds"`
	MaxConn     int                     `mapstructure:"max_conn"`
	Devices     map[string]DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig 单台模拟设备
type DeviceConfig struct {
	Flavor          string            `mapstructure:"flavor"`
	Hostname        string            `mapstructure:"hostname"`
	Username        string            `mapstructure:"username"`
	Password        string            `mapstructure:"password"`
	EnableSecret    string            `mapstructure:"enable_secret"`
	StartPrivileged bool              `mapstructure:"start_privileged"`
	InBandLogin     bool              `mapstructure:"in_band_login"`
	Banner          string            `mapstructure:"banner"`
	PageLines       int               `mapstructure:"page_lines"`
	Commands        map[string]string `mapstructure:"commands"`
	Rejected        []string          `mapstructure:"rejected"`
	Hang            []string          `mapstructure:"hang"`
	Interfaces      []Interface       `mapstructure:"interfaces"`
}

// LoadConfig 读取模拟器配置文件
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("listen", "127.0.0.1:2222")
	v.SetDefault("idle_seconds", 600)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("simulate config %s: no devices defined", path)
	}
	return &cfg, nil
}

// Build 按配置生成设备
func (c DeviceConfig) Build(name string) (*Device, error) {
	hostname := c.Hostname
	if hostname == "" {
		hostname = name
	}
	var d *Device
	switch Flavor(strings.ToLower(c.Flavor)) {
	case FlavorHuawei:
		d = NewHuaweiDevice(hostname)
	case FlavorCisco, "":
		d = NewCiscoDevice(hostname)
	default:
		return nil, fmt.Errorf("device %s: unknown flavor %q", name, c.Flavor)
	}
	if c.Username != "" {
		d.Username = c.Username
	}
	if c.Password != "" {
		d.Password = c.Password
	}
	d.EnableSecret = c.EnableSecret
	d.StartPrivileged = d.StartPrivileged || c.StartPrivileged
	d.InBandLogin = c.InBandLogin
	d.Banner = c.Banner
	d.PageLines = c.PageLines
	d.Commands = c.Commands
	d.Rejected = c.Rejected
	d.Hang = c.Hang
	if len(c.Interfaces) > 0 {
		d.SetInterfaces(c.Interfaces)
	}
	return d, nil
}

// BuildDevices 生成全部设备，键为设备名
func (c *Config) BuildDevices() (map[string]*Device, error) {
	names := make([]string, 0, len(c.Devices))
	for name := range c.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(map[string]*Device, len(names))
	for _, name := range names {
		d, err := c.Devices[name].Build(name)
		if err != nil {
			return nil, err
		}
		out[name] = d
	}
	return out, nil
}

// StartFile 读取配置文件并启动模拟服务，listen 非空时覆盖配置中的监听地址
func StartFile(path, listen string) (*Server, error) {
	if path == "" {
		return nil, errors.New("simulate config path is empty")
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	devices, err := cfg.BuildDevices()
	if err != nil {
		return nil, err
	}
	srv, err := NewServer(*cfg, devices)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}
