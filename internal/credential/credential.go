package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrNoCredentials 提供者无法给出凭据
var ErrNoCredentials = errors.New("no credentials available")

// Credentials 设备登录凭据
// 密码字段不参与序列化与格式化输出
type Credentials struct {
	Host         string `json:"host"`
	Port         int    `json:"port,omitempty"`
	Username     string `json:"username"`
	Secret       string `json:"-"`
	EnableSecret string `json:"-"`
	KeyFile      string `json:"key_file,omitempty"`
}

// String 脱敏展示
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s:%d(secret=%s, enable=%s)", c.Username, c.Host, c.port(), mask(c.Secret), mask(c.EnableSecret))
}

// GoString 防止 %#v 泄露密码
func (c Credentials) GoString() string {
	return "credential.Credentials{" + c.String() + "}"
}

// LogFields 可安全写入日志的字段
func (c Credentials) LogFields() logrus.Fields {
	return logrus.Fields{
		"host":     c.Host,
		"port":     c.port(),
		"username": c.Username,
	}
}

func (c Credentials) port() int {
	if c.Port == 0 {
		return 22
	}
	return c.Port
}

// Validate 检查必填项
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("credentials: host is required")
	}
	if strings.TrimSpace(c.Username) == "" {
		return errors.New("credentials: username is required")
	}
	if c.Secret == "" && c.KeyFile == "" {
		return errors.New("credentials: password or key file is required")
	}
	return nil
}

func mask(s string) string {
	if s == "" {
		return "<none>"
	}
	return "***"
}

// Provider 凭据提供者
type Provider interface {
	Credentials(ctx context.Context, host string) (Credentials, error)
}

// ProviderFunc 函数适配器
type ProviderFunc func(ctx context.Context, host string) (Credentials, error)

// Credentials 实现 Provider
func (f ProviderFunc) Credentials(ctx context.Context, host string) (Credentials, error) {
	return f(ctx, host)
}

// Static 固定凭据；Host 为空时使用请求的主机
type Static struct {
	Creds Credentials
}

// Credentials 实现 Provider
func (s Static) Credentials(_ context.Context, host string) (Credentials, error) {
	c := s.Creds
	if c.Host == "" {
		c.Host = host
	}
	return c, nil
}

// Env 从环境变量读取，前缀默认 NETAUTO
type Env struct {
	Prefix string
	Lookup func(string) (string, bool)
}

// Credentials 实现 Provider
func (e Env) Credentials(_ context.Context, host string) (Credentials, error) {
	prefix := e.Prefix
	if prefix == "" {
		prefix = "NETAUTO"
	}
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	user, ok := lookup(prefix + "_USERNAME")
	if !ok || user == "" {
		return Credentials{}, fmt.Errorf("%w: %s_USERNAME not set", ErrNoCredentials, prefix)
	}
	secret, _ := lookup(prefix + "_PASSWORD")
	enable, _ := lookup(prefix + "_SECRET")
	keyFile, _ := lookup(prefix + "_KEY_FILE")
	if secret == "" && keyFile == "" {
		return Credentials{}, fmt.Errorf("%w: %s_PASSWORD not set", ErrNoCredentials, prefix)
	}
	return Credentials{
		Host:         host,
		Username:     user,
		Secret:       secret,
		EnableSecret: enable,
		KeyFile:      keyFile,
	}, nil
}

// Chain 依次尝试，返回第一个成功的结果
type Chain []Provider

// Credentials 实现 Provider
func (c Chain) Credentials(ctx context.Context, host string) (Credentials, error) {
	var errs []error
	for _, p := range c {
		creds, err := p.Credentials(ctx, host)
		if err == nil {
			return creds, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Credentials{}, ErrNoCredentials
	}
	return Credentials{}, errors.Join(errs...)
}
