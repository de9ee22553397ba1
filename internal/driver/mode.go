package driver

import (
	"fmt"
	"strings"
)

// Mode CLI 所处模式，按权限由低到高排列
type Mode int

const (
	Unauthenticated Mode = iota
	Exec
	Privileged
	Config
)

var modeNames = [...]string{"UNAUTHENTICATED", "EXEC", "PRIVILEGED", "CONFIG"}

func (m Mode) String() string {
	if m < Unauthenticated || m > Config {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// Valid 是否为已定义的模式
func (m Mode) Valid() bool {
	return m >= Unauthenticated && m <= Config
}

// ParseMode 解析模式名，兼容常见别名
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unauthenticated", "none":
		return Unauthenticated, nil
	case "exec", "user", "user-exec":
		return Exec, nil
	case "privileged", "priv", "enable", "privileged-exec":
		return Privileged, nil
	case "config", "configuration", "configure":
		return Config, nil
	}
	return Unauthenticated, fmt.Errorf("unknown mode %q", s)
}

// MarshalText 序列化为模式名
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText 从模式名解析
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// step 朝 target 方向移动一级
func (m Mode) step(target Mode) Mode {
	switch {
	case target > m:
		return m + 1
	case target < m:
		return m - 1
	}
	return m
}
