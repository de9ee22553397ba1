package ssh

import (
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ReadTimeoutError 空闲读超时
type ReadTimeoutError struct {
	After time.Duration
}

func (e *ReadTimeoutError) Error() string {
	return "read timeout after " + e.After.String()
}

// Timeout 实现 net.Error 风格的超时判断
func (e *ReadTimeoutError) Timeout() bool { return true }

// Shell PTY交互通道：字节流写入 + 带超时的分块读取
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser

	chunks chan []byte
	done   chan struct{}
	errMu  sync.Mutex
	err    error

	closeOnce sync.Once
}

func newShell(session *ssh.Session, stdin io.WriteCloser, stdout io.Reader, backlog int) *Shell {
	if backlog <= 0 {
		backlog = 1024
	}
	s := &Shell{
		session: session,
		stdin:   stdin,
		chunks:  make(chan []byte, backlog),
		done:    make(chan struct{}),
	}
	go s.pump(stdout)
	return s
}

// pump 读协程：把输出按块推送到通道，读到错误后关闭通道
func (s *Shell) pump(r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			return
		}
	}
}

// Write 写入原始字节
func (s *Shell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Read 读取下一批输出；timeout 内无数据返回 *ReadTimeoutError，通道结束返回 io.EOF
func (s *Shell) Read(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return nil, s.readErr()
		}
		// 合并已经到达的后续数据块
		for {
			select {
			case more, ok := <-s.chunks:
				if !ok {
					return chunk, nil
				}
				chunk = append(chunk, more...)
			default:
				return chunk, nil
			}
		}
	case <-timer.C:
		return nil, &ReadTimeoutError{After: timeout}
	}
}

func (s *Shell) readErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil || s.err == io.EOF {
		return io.EOF
	}
	return s.err
}

// Close 关闭Shell会话
func (s *Shell) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.stdin.Close()
		err = s.session.Close()
		if err == io.EOF {
			err = nil
		}
	})
	return err
}
