package simulate

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sshcollectorpro/netauto/internal/credential"
	"github.com/sshcollectorpro/netauto/internal/driver"
	sshx "github.com/sshcollectorpro/netauto/pkg/ssh"
)

// Pipe 内存中的字节流通道，直接驱动 Console
type Pipe struct {
	mu      sync.Mutex
	console *Console
	// chunk 输出按该大小切分，用于模拟分片到达
	chunk   int
	pending [][]byte
	notify  chan struct{}
	eof     bool
	closed  bool

	written []string
}

// NewPipe 创建通道并放入首屏输出
func NewPipe(console *Console, chunk int) *Pipe {
	p := &Pipe{console: console, chunk: chunk, notify: make(chan struct{}, 1)}
	p.push(console.Greeting())
	return p
}

func (p *Pipe) push(out []byte) {
	if len(out) == 0 {
		return
	}
	if p.chunk <= 0 {
		p.pending = append(p.pending, out)
	} else {
		for len(out) > 0 {
			n := min(p.chunk, len(out))
			p.pending = append(p.pending, out[:n])
			out = out[n:]
		}
	}
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Write 把输入交给控制台
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.eof {
		return 0, io.ErrClosedPipe
	}
	p.written = append(p.written, string(b))
	p.push(p.console.Feed(b))
	if p.console.Closed() {
		p.eof = true
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	return len(b), nil
}

// Read 读取一个分片；超时返回 *ssh.ReadTimeoutError
func (p *Pipe) Read(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		p.mu.Lock()
		if len(p.pending) > 0 {
			out := p.pending[0]
			p.pending = p.pending[1:]
			p.mu.Unlock()
			return out, nil
		}
		if p.closed || p.eof {
			p.mu.Unlock()
			return nil, io.EOF
		}
		p.mu.Unlock()

		select {
		case <-p.notify:
		case <-timer.C:
			return nil, &sshx.ReadTimeoutError{After: timeout}
		}
	}
}

// Close 关闭通道
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// Written 客户端写入的原始数据
func (p *Pipe) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

// Dialer 直接连接到内存设备的拨号器
type Dialer struct {
	Device *Device
	// Chunk 输出分片大小，0 表示整块
	Chunk int

	mu    sync.Mutex
	pipes []*Pipe
}

// Dial 实现 driver.Dialer，传输层认证使用设备的用户名密码
func (d *Dialer) Dial(ctx context.Context, creds credential.Credentials) (driver.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, &driver.ConnectTimeoutError{Host: creds.Host, Err: err}
	}
	if !d.Device.InBandLogin && (creds.Username != d.Device.Username || creds.Secret != d.Device.Password) {
		return nil, &driver.AuthenticationError{Host: creds.Host, Username: creds.Username, Reason: "permission denied"}
	}
	p := NewPipe(NewConsole(d.Device), d.Chunk)
	d.mu.Lock()
	d.pipes = append(d.pipes, p)
	d.mu.Unlock()
	return p, nil
}

// Dials 已建立的通道数
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pipes)
}

// Last 最近一次建立的通道
func (d *Dialer) Last() *Pipe {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pipes) == 0 {
		return nil
	}
	return d.pipes[len(d.pipes)-1]
}
