package credential

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// SSHConfig 通过 ~/.ssh/config 的 Host 别名解析真实地址、端口、用户与密钥
// 密码仍由 Next 提供
type SSHConfig struct {
	Path string
	Next Provider

	cfg *ssh_config.Config
}

// LoadSSHConfig 读取并解析 ssh_config 文件；文件不存在时返回空配置
func LoadSSHConfig(path string, next Provider) (*SSHConfig, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".ssh", "config")
	}
	s := &SSHConfig{Path: path, Next: next}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read ssh config: %w", err)
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse ssh config %s: %w", path, err)
	}
	s.cfg = cfg
	return s, nil
}

// Resolve 解析别名
func (s *SSHConfig) Resolve(alias string) (Credentials, error) {
	creds := Credentials{Host: alias}
	if s.cfg == nil {
		return creds, nil
	}
	if v, err := s.cfg.Get(alias, "HostName"); err == nil && v != "" {
		creds.Host = v
	}
	if v, err := s.cfg.Get(alias, "User"); err == nil && v != "" {
		creds.Username = v
	}
	if v, err := s.cfg.Get(alias, "Port"); err == nil && v != "" {
		port, convErr := strconv.Atoi(v)
		if convErr != nil {
			return Credentials{}, fmt.Errorf("ssh config %s: invalid port %q", alias, v)
		}
		creds.Port = port
	}
	if v, err := s.cfg.Get(alias, "IdentityFile"); err == nil && v != "" {
		creds.KeyFile = expandHome(v)
	}
	return creds, nil
}

// Credentials 实现 Provider
func (s *SSHConfig) Credentials(ctx context.Context, host string) (Credentials, error) {
	resolved, err := s.Resolve(host)
	if err != nil {
		return Credentials{}, err
	}
	if s.Next == nil {
		return resolved, nil
	}
	creds, err := s.Next.Credentials(ctx, resolved.Host)
	if err != nil {
		return Credentials{}, err
	}
	if creds.Username == "" {
		creds.Username = resolved.Username
	}
	if creds.Port == 0 {
		creds.Port = resolved.Port
	}
	if creds.KeyFile == "" {
		creds.KeyFile = resolved.KeyFile
	}
	creds.Host = resolved.Host
	return creds, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
