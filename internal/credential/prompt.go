package credential

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompt 在终端交互式输入凭据（密码不回显）
type Prompt struct {
	Username  string
	AskEnable bool
	In        *os.File
	Out       io.Writer

	readLine   func() (string, error)
	readSecret func() (string, error)
	isTerminal func() bool
}

// NewPrompt 使用标准输入输出
func NewPrompt(username string, askEnable bool) *Prompt {
	return &Prompt{Username: username, AskEnable: askEnable, In: os.Stdin, Out: os.Stderr}
}

// Credentials 实现 Provider
func (p *Prompt) Credentials(ctx context.Context, host string) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}
	if !p.terminal() {
		return Credentials{}, fmt.Errorf("%w: stdin is not a terminal", ErrNoCredentials)
	}
	creds := Credentials{Host: host, Username: p.Username}
	if creds.Username == "" {
		fmt.Fprintf(p.Out, "Username for %s: ", host)
		line, err := p.line()
		if err != nil {
			return Credentials{}, fmt.Errorf("read username: %w", err)
		}
		creds.Username = line
	}
	fmt.Fprintf(p.Out, "Password for %s@%s: ", creds.Username, host)
	secret, err := p.secret()
	fmt.Fprintln(p.Out)
	if err != nil {
		return Credentials{}, fmt.Errorf("read password: %w", err)
	}
	creds.Secret = secret
	if p.AskEnable {
		fmt.Fprintf(p.Out, "Enable secret for %s (empty to reuse password): ", host)
		enable, err := p.secret()
		fmt.Fprintln(p.Out)
		if err != nil {
			return Credentials{}, fmt.Errorf("read enable secret: %w", err)
		}
		if enable == "" {
			enable = secret
		}
		creds.EnableSecret = enable
	}
	if creds.Username == "" {
		return Credentials{}, errors.New("username is required")
	}
	return creds, nil
}

func (p *Prompt) terminal() bool {
	if p.isTerminal != nil {
		return p.isTerminal()
	}
	return p.In != nil && term.IsTerminal(int(p.In.Fd()))
}

func (p *Prompt) line() (string, error) {
	if p.readLine != nil {
		return p.readLine()
	}
	s, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (p *Prompt) secret() (string, error) {
	if p.readSecret != nil {
		return p.readSecret()
	}
	b, err := term.ReadPassword(int(p.In.Fd()))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
