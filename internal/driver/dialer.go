package driver

import (
	"context"
	"errors"

	"github.com/sshcollectorpro/netauto/internal/credential"
	sshx "github.com/sshcollectorpro/netauto/pkg/ssh"
)

// SSHDialer 通过 SSH PTY Shell 建立通道
type SSHDialer struct {
	Config *sshx.Config
}

// sshChannel 关闭 Shell 时一并关闭底层连接
type sshChannel struct {
	*sshx.Shell
	client *sshx.Client
}

func (c *sshChannel) Close() error {
	err := c.Shell.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// Dial 实现 Dialer
func (d *SSHDialer) Dial(ctx context.Context, creds credential.Credentials) (Channel, error) {
	cfg := d.Config
	if cfg == nil {
		cfg = sshx.DefaultConfig()
	}
	client := sshx.NewClient(cfg)
	info := &sshx.ConnectionInfo{
		Host:     creds.Host,
		Port:     creds.Port,
		Username: creds.Username,
		Password: creds.Secret,
		KeyFile:  creds.KeyFile,
	}
	if err := client.Connect(ctx, info); err != nil {
		switch {
		case errors.Is(err, sshx.ErrAuthentication):
			return nil, &AuthenticationError{Host: creds.Host, Username: creds.Username, Err: err}
		case errors.Is(err, sshx.ErrConnectTimeout):
			return nil, &ConnectTimeoutError{Host: info.Address(), After: cfg.ConnectTimeout, Err: err}
		}
		return nil, err
	}
	shell, err := client.OpenShell(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &sshChannel{Shell: shell, client: client}, nil
}
