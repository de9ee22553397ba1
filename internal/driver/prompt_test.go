package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func huaweiLike() Profile {
	p := Generic()
	p.Platform = "huawei-like"
	p.ExecPrompt = ""
	p.PrivilegedPrompt = `^<[~*]?[\w.\-/:@]+>\s*$`
	p.ConfigPrompt = `^\[[~*]?[\w.\-/:@]+\]\s*$`
	return p
}

func TestClassifyPrefersConfig(t *testing.T) {
	p := Generic()
	m, err := NewPromptMachine(&p)
	require.NoError(t, err)

	cases := map[string]Mode{
		"R1>":                Exec,
		"R1#":                Privileged,
		"R1(config)#":        Config,
		"R1(config-if)#":     Config,
		"core-sw.lab#  ":     Privileged,
		"R1(config-router)#": Config,
	}
	for line, want := range cases {
		got, ok := m.Classify(line)
		require.True(t, ok, line)
		assert.Equal(t, want, got, line)
	}
	_, ok := m.Classify("Building configuration...")
	assert.False(t, ok)
}

func TestLearnRestrictsToHostname(t *testing.T) {
	p := Generic()
	m, err := NewPromptMachine(&p)
	require.NoError(t, err)

	mode, err := m.Learn("edge-01>")
	require.NoError(t, err)
	assert.Equal(t, Exec, mode)
	assert.Equal(t, "edge-01", m.Stem())

	got, ok := m.MatchAny("output\nedge-01(config)#")
	assert.True(t, ok)
	assert.Equal(t, Config, got)

	_, ok = m.MatchAny("some banner line\nother#")
	assert.False(t, ok, "其他主机名的提示符不应被接受")
	assert.True(t, m.Match("x\nedge-01>"))
	assert.False(t, m.Match("x\nedge-01#"), "模式不同时 Match 为 false")

	_, err = m.Learn("not a prompt")
	assert.Error(t, err)
}

func TestExpectAndSettleRename(t *testing.T) {
	p := Generic()
	m, err := NewPromptMachine(&p)
	require.NoError(t, err)
	_, err = m.Learn("R1(config)#")
	require.NoError(t, err)

	m.Expect("CORE")
	mode, ok := m.MatchAny("hostname CORE\nCORE(config)#")
	require.True(t, ok, "改名期间新主机名应被接受")
	assert.Equal(t, Config, mode)

	m.Settle("hostname CORE\nCORE(config)#")
	assert.Equal(t, "CORE", m.Stem())
	_, ok = m.MatchAny("R1(config)#")
	assert.False(t, ok, "确认后旧主机名不再有效")

	// 命令被拒绝时保持原主机名
	m.Expect("EDGE")
	m.Settle("% Invalid input\nCORE(config)#")
	assert.Equal(t, "CORE", m.Stem())
}

func TestBracketPrompts(t *testing.T) {
	p := huaweiLike()
	m, err := NewPromptMachine(&p)
	require.NoError(t, err)

	mode, err := m.Learn("<HUAWEI>")
	require.NoError(t, err)
	assert.Equal(t, Privileged, mode)
	assert.Equal(t, "HUAWEI", m.Stem())

	got, ok := m.MatchAny("system-view\nEnter system view, return user view with Ctrl+Z.\n[HUAWEI]")
	require.True(t, ok)
	assert.Equal(t, Config, got)

	_, ok = m.MatchAny("[~HUAWEI]")
	assert.True(t, ok, "两阶段提交的 ~ 前缀")
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "R1#", lastLine("a\nb\nR1# "))
	assert.Equal(t, "", lastLine("a\n"))
	assert.Equal(t, "R1#", lastLine("\rR1#"))
}
