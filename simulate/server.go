package simulate

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	"golang.org/x/crypto/ssh"
)

// Server SSH 模拟服务：用户名选择设备，PTY shell 交给 Console 处理
type Server struct {
	cfg     Config
	devices map[string]*Device
	hostKey ssh.Signer

	mu       sync.Mutex
	listener net.Listener
	active   int
	wg       sync.WaitGroup
}

// NewServer 创建模拟服务
func NewServer(cfg Config, devices map[string]*Device) (*Server, error) {
	if len(devices) == 0 {
		return nil, errors.New("simulate: no devices")
	}
	signer, err := loadOrCreateHostKey(cfg.HostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to init host key: %w", err)
	}
	return &Server{cfg: cfg, devices: devices, hostKey: signer}, nil
}

// loadOrCreateHostKey 加载主机密钥；文件不存在时生成 ed25519 并持久化，路径为空则只在内存中生成
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		if bs, err := os.ReadFile(path); err == nil {
			signer, err := ssh.ParsePrivateKey(bs)
			if err == nil {
				return signer, nil
			}
			logger.Warnf("Simulate: host key %s unreadable, regenerating: %v", path, err)
		}
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	if path != "" {
		block, err := ssh.MarshalPrivateKey(priv, "netauto-simulate")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal host key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure host key dir: %w", err)
		}
		if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write host key: %w", err)
		}
		logger.Infof("Simulate: host key generated at %s", path)
	}
	return ssh.NewSignerFromKey(priv)
}

// Start 开始监听
func (s *Server) Start() error {
	addr := s.cfg.Listen
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	logger.Infof("Simulate: listening on %s with %d devices", ln.Addr(), len(s.devices))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Warnf("Simulate: accept error: %v", err)
				time.Sleep(200 * time.Millisecond)
				continue
			}
			s.mu.Lock()
			if s.cfg.MaxConn > 0 && s.active >= s.cfg.MaxConn {
				s.mu.Unlock()
				_ = conn.Close()
				logger.Warnf("Simulate: reject %s, max_conn %d exceeded", conn.RemoteAddr(), s.cfg.MaxConn)
				continue
			}
			s.active++
			s.mu.Unlock()

			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.handleConn(c)
				s.mu.Lock()
				s.active--
				s.mu.Unlock()
			}(conn)
		}
	}()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop 停止监听并等待连接退出
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.wg.Wait()
}

// resolve 用户名先按设备名匹配，再按设备登录名匹配
func (s *Server) resolve(user string) (*Device, bool) {
	if d, ok := s.devices[user]; ok {
		return d, true
	}
	for _, d := range s.devices {
		if d.Username == user {
			return d, true
		}
	}
	return nil, false
}

func (s *Server) authenticate(user, password string) bool {
	d, ok := s.resolve(user)
	if !ok {
		return false
	}
	return d.InBandLogin || password == d.Password
}

func (s *Server) handleConn(nc net.Conn) {
	log := logger.WithField("remote", nc.RemoteAddr().String())
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if s.authenticate(meta.User(), string(password)) {
				return nil, nil
			}
			log.WithField("user", meta.User()).Debug("Simulate: password rejected")
			return nil, errors.New("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) > 0 && s.authenticate(meta.User(), answers[0]) {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		log.Debugf("Simulate: handshake failed: %v", err)
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	dev, _ := s.resolve(conn.User())
	log = log.WithFields(logrus.Fields{"user": conn.User(), "device": dev.Hostname})
	log.Debug("Simulate: handshake success")

	var sessions sync.WaitGroup
	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			log.Warnf("Simulate: channel accept failed: %v", err)
			continue
		}
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			s.handleSession(channel, requests, dev, log)
		}()
	}
	sessions.Wait()
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, dev *Device, log *logrus.Entry) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "window-change", "env":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			s.runShell(channel, NewConsole(dev), log)
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func (s *Server) runShell(channel ssh.Channel, console *Console, log *logrus.Entry) {
	if _, err := channel.Write(console.Greeting()); err != nil {
		return
	}
	idle := time.Duration(s.cfg.IdleSeconds) * time.Second

	in := make(chan shellInput)
	go func() {
		defer close(in)
		buf := make([]byte, 1024)
		for {
			n, err := channel.Read(buf)
			in <- shellInput{data: append([]byte(nil), buf[:n]...), err: err}
			if err != nil {
				return
			}
		}
	}()

	var timeout <-chan time.Time
	for {
		if idle > 0 {
			timeout = time.After(idle)
		}
		select {
		case <-timeout:
			_, _ = channel.Write([]byte("\r\nSession closed due to idle timeout.\r\n"))
			log.Debug("Simulate: idle timeout")
			go drain(in)
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if len(msg.data) > 0 {
				out := console.Feed(msg.data)
				if len(out) > 0 {
					if _, err := channel.Write(out); err != nil {
						go drain(in)
						return
					}
				}
				if console.Closed() {
					log.Debug("Simulate: session logout")
					_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
					go drain(in)
					return
				}
			}
			if msg.err != nil {
				if !strings.Contains(msg.err.Error(), "EOF") {
					log.Debugf("Simulate: read error: %v", msg.err)
				}
				return
			}
		}
	}
}

type shellInput struct {
	data []byte
	err  error
}

func drain(ch <-chan shellInput) {
	for range ch {
	}
}
