package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sshcollectorpro/netauto/internal/credential"
	"github.com/sshcollectorpro/netauto/pkg/logger"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("session pool closed")

// PoolConfig 会话池配置
type PoolConfig struct {
	MaxActive       int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

type pooledSession struct {
	session  *Session
	lastUsed time.Time
}

// Pool 按设备缓存已登录的会话，一个会话同一时刻只借给一个调用方
type Pool struct {
	dialer Dialer
	cfg    PoolConfig

	mu     sync.Mutex
	idle   map[string]*pooledSession
	active map[*Session]string
	// opening 已占用名额但仍在建连的会话数
	opening int
	closed  bool
	stop   chan struct{}
}

// NewPool 创建会话池并启动空闲清理
func NewPool(dialer Dialer, cfg PoolConfig) *Pool {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	p := &Pool{
		dialer: dialer,
		cfg:    cfg,
		idle:   make(map[string]*pooledSession),
		active: make(map[*Session]string),
		stop:   make(chan struct{}),
	}
	go p.cleanup()
	return p
}

func poolKey(creds credential.Credentials, platform string) string {
	port := creds.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d@%s/%s", creds.Host, port, creds.Username, platform)
}

// Acquire 取出空闲会话或新建会话
func (p *Pool) Acquire(ctx context.Context, creds credential.Credentials, opts Options) (*Session, error) {
	key := poolKey(creds, opts.Profile.Platform)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if ps, ok := p.idle[key]; ok {
		delete(p.idle, key)
		if ps.session.Usable() {
			p.active[ps.session] = key
			p.mu.Unlock()
			return ps.session, nil
		}
		_ = ps.session.Close()
	}
	if p.cfg.MaxActive > 0 && len(p.active)+p.opening >= p.cfg.MaxActive {
		n := len(p.active) + p.opening
		p.mu.Unlock()
		return nil, fmt.Errorf("session pool is full, active sessions: %d", n)
	}
	p.opening++
	p.mu.Unlock()

	s, err := Open(ctx, p.dialer, creds, opts)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.opening--
	if err != nil {
		return nil, err
	}
	if p.closed {
		_ = s.Close()
		return nil, ErrPoolClosed
	}
	p.active[s] = key
	return s, nil
}

// Release 归还会话；不可用的会话直接关闭
// 同一设备已有空闲会话时关闭多余的一个
func (p *Pool) Release(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.active[s]
	if !ok {
		return
	}
	delete(p.active, s)
	if p.closed || !s.Usable() {
		_ = s.Close()
		return
	}
	if _, exists := p.idle[key]; exists {
		_ = s.Close()
		return
	}
	p.idle[key] = &pooledSession{session: s, lastUsed: time.Now()}
}

// Stats 池状态
func (p *Pool) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{
		"active":  len(p.active),
		"idle":    len(p.idle),
		"opening": p.opening,
	}
}

// Close 关闭全部会话
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stop)

	var errs []error
	for key, ps := range p.idle {
		if err := ps.session.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.idle, key)
	}
	return errors.Join(errs...)
}

func (p *Pool) cleanup() {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reap(time.Now())
		}
	}
}

// reap 关闭超过空闲时间的会话
func (p *Pool) reap(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for key, ps := range p.idle {
		if now.Sub(ps.lastUsed) > p.cfg.IdleTimeout || !ps.session.Usable() {
			_ = ps.session.Close()
			delete(p.idle, key)
			n++
		}
	}
	if n > 0 {
		logger.Debugf("session pool reaped %d idle sessions", n)
	}
	return n
}
