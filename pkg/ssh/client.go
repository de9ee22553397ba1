package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sshcollectorpro/netauto/pkg/logger"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	// ErrAuthentication 认证失败（用户名/密码/密钥被拒绝）
	ErrAuthentication = errors.New("ssh authentication failed")
	// ErrConnectTimeout 建连或握手超时
	ErrConnectTimeout = errors.New("ssh connect timeout")
	// ErrNotConnected 连接未建立或已关闭
	ErrNotConnected = errors.New("ssh connection not established")
)

// Config SSH配置
type Config struct {
	ConnectTimeout   time.Duration
	KeepAlive        time.Duration
	KnownHostsFile   string
	LegacyAlgorithms bool
	// TermTypes PTY终端类型回退顺序
	TermTypes    []string
	TermWidth    int
	TermHeight   int
	ChunkBacklog int
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout:   10 * time.Second,
		KeepAlive:        30 * time.Second,
		LegacyAlgorithms: true,
		TermTypes:        []string{"vt100", "xterm", "ansi", "dumb"},
		TermWidth:        511,
		TermHeight:       24,
		ChunkBacklog:     1024,
	}
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string
	Port     int
	Username string
	Password string
	KeyFile  string
}

// Address host:port
func (i *ConnectionInfo) Address() string {
	port := i.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(i.Host, strconv.Itoa(port))
}

// Client SSH客户端
type Client struct {
	config *Config
	conn   *ssh.Client
	mutex  sync.RWMutex
	cancel context.CancelFunc
}

// NewClient 创建SSH客户端
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{config: config}
}

func (c *Client) clientConfig(info *ConnectionInfo) (*ssh.ClientConfig, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.config.KnownHostsFile != "" {
		cb, err := knownhosts.New(c.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", c.config.KnownHostsFile, err)
		}
		hostKeyCallback = cb
	}

	cfg := &ssh.ClientConfig{
		User:            info.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.ConnectTimeout,
	}
	if c.config.LegacyAlgorithms {
		// 老旧网络设备仍在使用的算法
		cfg.Config = ssh.Config{
			KeyExchanges: []string{
				"curve25519-sha256",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
			},
			Ciphers: []string{
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"chacha20-poly1305@openssh.com",
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-cbc",
				"3des-cbc",
			},
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		}
		cfg.HostKeyAlgorithms = []string{
			"ssh-ed25519",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"rsa-sha2-512",
			"rsa-sha2-256",
			"ssh-rsa",
		}
	}

	if info.KeyFile != "" {
		pem, err := os.ReadFile(info.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	}
	if info.Password != "" {
		password := info.Password
		// 同时尝试 password 与 keyboard-interactive，兼容 H3C/Cisco 等设备
		cfg.Auth = append(cfg.Auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	return cfg, nil
}

// Connect 连接SSH服务器
func (c *Client) Connect(ctx context.Context, info *ConnectionInfo) error {
	cfg, err := c.clientConfig(info)
	if err != nil {
		return err
	}
	address := info.Address()

	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return classifyConnectError(address, err)
	}
	if c.config.ConnectTimeout > 0 {
		// 握手阶段同样受超时约束
		_ = conn.SetDeadline(time.Now().Add(c.config.ConnectTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, cfg)
	if err != nil {
		_ = conn.Close()
		return classifyConnectError(address, err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.mutex.Lock()
	c.conn = ssh.NewClient(sshConn, chans, reqs)
	kaCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mutex.Unlock()

	go c.keepAlive(kaCtx)
	return nil
}

func classifyConnectError(address string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrConnectTimeout, address, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrConnectTimeout, address, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return fmt.Errorf("%w: %s: %v", ErrAuthentication, address, err)
	}
	if strings.Contains(msg, "i/o timeout") {
		return fmt.Errorf("%w: %s: %v", ErrConnectTimeout, address, err)
	}
	return fmt.Errorf("ssh connect %s: %w", address, err)
}

// newSessionWithRetry 创建会话（带重试）
// 部分设备登录后立刻开通道会返回 "administratively prohibited"
func (c *Client) newSessionWithRetry(ctx context.Context) (*ssh.Session, error) {
	c.mutex.RLock()
	conn := c.conn
	c.mutex.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	backoffs := []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond, time.Second}
	var lastErr error
	for _, d := range backoffs {
		if d > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
		}
		sess, err := conn.NewSession()
		if err == nil {
			return sess, nil
		}
		lastErr = err
		if !strings.Contains(strings.ToLower(err.Error()), "prohibited") &&
			!strings.Contains(strings.ToLower(err.Error()), "open failed") {
			break
		}
	}
	return nil, lastErr
}

// OpenShell 打开一个带PTY的交互式Shell
func (c *Client) OpenShell(ctx context.Context) (*Shell, error) {
	session, err := c.newSessionWithRetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	terms := c.config.TermTypes
	if len(terms) == 0 {
		terms = DefaultConfig().TermTypes
	}
	var ptyErr error
	for _, term := range terms {
		if ptyErr = session.RequestPty(term, c.config.TermHeight, c.config.TermWidth, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	return newShell(session, stdin, stdout, c.config.ChunkBacklog), nil
}

// Close 关闭SSH连接
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	conn := c.conn
	c.mutex.RUnlock()
	if conn == nil {
		return false
	}
	// keepalive 请求不开新通道，避免触发设备的会话数限制
	_, _, err := conn.SendRequest("keepalive@openssh.com", false, nil)
	return err == nil
}

// keepAlive 保持连接活跃
func (c *Client) keepAlive(ctx context.Context) {
	if c.config.KeepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				logger.Debugf("keepalive failed, closing ssh connection")
				_ = c.Close()
				return
			}
		}
	}
}
