package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsNeverLeakSecret(t *testing.T) {
	c := Credentials{Host: "10.0.0.1", Username: "admin", Secret: "s3cr3t", EnableSecret: "en4ble"}

	for _, s := range []string{c.String(), fmt.Sprintf("%v", c), fmt.Sprintf("%+v", c), fmt.Sprintf("%#v", c)} {
		assert.NotContains(t, s, "s3cr3t", "格式化输出不应包含密码")
		assert.NotContains(t, s, "en4ble", "格式化输出不应包含enable密码")
	}
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "s3cr3t")
	assert.NotContains(t, c.LogFields(), "secret")
}

func TestCredentialsValidate(t *testing.T) {
	assert.Error(t, Credentials{Username: "a", Secret: "b"}.Validate())
	assert.Error(t, Credentials{Host: "h", Secret: "b"}.Validate())
	assert.Error(t, Credentials{Host: "h", Username: "a"}.Validate())
	assert.NoError(t, Credentials{Host: "h", Username: "a", Secret: "b"}.Validate())
	assert.NoError(t, Credentials{Host: "h", Username: "a", KeyFile: "/k"}.Validate())
}

func TestEnvProvider(t *testing.T) {
	env := map[string]string{
		"NETAUTO_USERNAME": "admin",
		"NETAUTO_PASSWORD": "pw",
		"NETAUTO_SECRET":   "en",
	}
	p := Env{Lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok }}
	c, err := p.Credentials(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", c.Host)
	assert.Equal(t, "admin", c.Username)
	assert.Equal(t, "pw", c.Secret)
	assert.Equal(t, "en", c.EnableSecret)

	delete(env, "NETAUTO_PASSWORD")
	_, err = p.Credentials(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestChainFallsThrough(t *testing.T) {
	failing := ProviderFunc(func(context.Context, string) (Credentials, error) {
		return Credentials{}, ErrNoCredentials
	})
	chain := Chain{failing, Static{Creds: Credentials{Username: "u", Secret: "p"}}}
	c, err := chain.Credentials(context.Background(), "sw1")
	require.NoError(t, err)
	assert.Equal(t, "sw1", c.Host)
	assert.Equal(t, "u", c.Username)

	_, err = Chain{failing}.Credentials(context.Background(), "sw1")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestPromptProvider(t *testing.T) {
	var out bytes.Buffer
	secrets := []string{"pw", ""}
	p := &Prompt{
		AskEnable:  true,
		Out:        &out,
		isTerminal: func() bool { return true },
		readLine:   func() (string, error) { return "operator", nil },
		readSecret: func() (string, error) {
			s := secrets[0]
			secrets = secrets[1:]
			return s, nil
		},
	}
	c, err := p.Credentials(context.Background(), "core1")
	require.NoError(t, err)
	assert.Equal(t, "operator", c.Username)
	assert.Equal(t, "pw", c.Secret)
	assert.Equal(t, "pw", c.EnableSecret, "enable密码为空时复用登录密码")
	assert.NotContains(t, out.String(), "pw")
}

func TestPromptRequiresTerminal(t *testing.T) {
	p := &Prompt{Out: &bytes.Buffer{}, isTerminal: func() bool { return false }}
	_, err := p.Credentials(context.Background(), "core1")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestSSHConfigResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	content := "Host edge1\n  HostName 192.0.2.10\n  User netops\n  Port 2222\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	sc, err := LoadSSHConfig(path, Static{Creds: Credentials{Secret: "pw"}})
	require.NoError(t, err)

	c, err := sc.Credentials(context.Background(), "edge1")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", c.Host)
	assert.Equal(t, "netops", c.Username)
	assert.Equal(t, 2222, c.Port)
	assert.Equal(t, "pw", c.Secret)

	c, err = sc.Credentials(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, "unknown", c.Host)
}

func TestSSHConfigMissingFile(t *testing.T) {
	sc, err := LoadSSHConfig(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	c, err := sc.Credentials(context.Background(), "r9")
	require.NoError(t, err)
	assert.Equal(t, "r9", c.Host)
}
