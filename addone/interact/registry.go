package interact

import (
	"sort"
	"strings"
	"sync"

	"github.com/sshcollectorpro/netauto/internal/driver"
)

// 注册中心，按平台名称获取交互插件
var (
	registryMu sync.RWMutex
	registry   = map[string]InteractPlugin{
		"default": &DefaultPlugin{},
	}
)

// Register 注册一个交互插件
func Register(name string, plugin InteractPlugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = plugin
}

// Get 获取指定平台的交互插件，不存在则返回 default
func Get(name string) InteractPlugin {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if p, ok := registry[strings.ToLower(name)]; ok {
		return p
	}
	return registry["default"]
}

// Lookup 获取插件，不回退
func Lookup(name string) (InteractPlugin, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[strings.ToLower(name)]
	return p, ok
}

// Names 已注册的平台名称
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Profile 平台参数的副本，超时取插件默认值
func Profile(name string) driver.Profile {
	p := Get(name)
	prof := p.Profile().Clone()
	d := p.Defaults()
	if prof.IdleTimeout <= 0 {
		prof.IdleTimeout = d.IdleTimeout
	}
	if prof.CommandTimeout <= 0 {
		prof.CommandTimeout = d.CommandTimeout
	}
	return prof
}
