package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileValueOptions(t *testing.T) {
	tpl := mustCompile(t, "opts", `Value Required,Filldown,Key host (\S+)
Value Integer mtu (\d+)
Value List Lower members (\S+)
Value Status state (\S+)

Start
  ^${host}\s+${mtu}\s+${state}
  ^\s+${members}
`)
	fields := tpl.Fields()
	require.Len(t, fields, 4)
	assert.True(t, fields[0].Required)
	assert.True(t, fields[0].Filldown)
	assert.True(t, fields[0].Key)
	assert.Equal(t, KindString, fields[0].Kind)
	assert.Equal(t, KindInt, fields[1].Kind)
	assert.Equal(t, KindList, fields[2].Kind)
	assert.Equal(t, []string{"lower"}, fields[2].Rules)
	assert.Equal(t, KindStatus, fields[3].Kind)
	assert.Equal(t, []string{"Start"}, tpl.States())

	fields[2].Rules[0] = "changed"
	assert.Equal(t, []string{"lower"}, tpl.Fields()[2].Rules, "Fields 返回副本")
}

func TestCompileWithTypeOverrides(t *testing.T) {
	tpl, err := CompileWithTypes("over", "Value MTU (\\S+)\n\nStart\n  ^mtu ${MTU}\n", map[string]string{"MTU": "int"})
	require.NoError(t, err)
	assert.Equal(t, KindInt, tpl.Fields()[0].Kind)

	_, err = CompileWithTypes("over", "Value MTU (\\S+)\n\nStart\n  ^mtu ${MTU}\n", map[string]string{"SPEED": "int"})
	assert.Error(t, err, "未声明字段的类型覆盖")
}

func TestCompileErrors(t *testing.T) {
	cases := map[string]string{
		"no values":        "Start\n  ^x\n",
		"no start":         "Value a (\\S+)\n\nTable\n  ^${a}\n",
		"unknown value":    "Value a (\\S+)\n\nStart\n  ^${b}\n",
		"bad option":       "Value Sometimes a (\\S+)\n\nStart\n  ^${a}\n",
		"bad value regex":  "Value a (\\S+\n\nStart\n  ^${a}\n",
		"no parens":        "Value a \\S+\n\nStart\n  ^${a}\n",
		"undefined state":  "Value a (\\S+)\n\nStart\n  ^${a} -> Missing\n",
		"continue + state": "Value a (\\S+)\n\nStart\n  ^${a} -> Continue.Record Other\n\nOther\n  ^x\n",
		"bad action":       "Value a (\\S+)\n\nStart\n  ^${a} -> Next.Save\n",
		"rule without ^":   "Value a (\\S+)\n\nStart\n  ${a}\n",
		"duplicate value":  "Value a (\\S+)\nValue a (\\d+)\n\nStart\n  ^${a}\n",
		"duplicate state":  "Value a (\\S+)\n\nStart\n  ^${a}\n\nStart\n  ^b\n",
		"reserved End":     "Value a (\\S+)\n\nStart\n  ^${a}\n\nEnd\n",
		"conflicting type": "Value Integer,Status a (\\S+)\n\nStart\n  ^${a}\n",
		"value used twice": "Value a (\\S+)\n\nStart\n  ^${a} ${a}\n",
		"orphan rule":      "Value a (\\S+)\n  ^${a}\n",
	}
	for name, text := range cases {
		_, err := Compile("bad", text)
		var se *SyntaxError
		if assert.ErrorAs(t, err, &se, name) {
			assert.Equal(t, CodeTemplateInvalid, se.Code(), name)
		}
	}
}

func TestCompileReportsLineNumber(t *testing.T) {
	_, err := Compile("bad", "Value a (\\S+)\n\nStart\n  ^${a}\n  ^${b}\n")
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 5, se.Line)
	assert.Contains(t, err.Error(), "${b}")
}

func TestCompileToleratesCommentsAndBlankLines(t *testing.T) {
	tpl := mustCompile(t, "comments", "# header comment\nValue a (\\S+)\n\n# states\nStart\n  # rule comment\n  ^a=${a} -> Record\n")
	res, err := tpl.Parse("a=1\n")
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
}

func TestCommandPattern(t *testing.T) {
	re, err := CommandPattern("sh[[ow]] ip int[[erface]] br[[ief]]")
	require.NoError(t, err)
	for _, cmd := range []string{"show ip interface brief", "sh ip int br", "sho ip inte bri", "show ip int brief"} {
		assert.True(t, re.MatchString(cmd), cmd)
	}
	for _, cmd := range []string{"s ip int br", "show ip interfaces brief", "show ip int br detail", "show ip"} {
		assert.False(t, re.MatchString(cmd), cmd)
	}

	lit, err := CommandPattern("show-ip-brief")
	require.NoError(t, err)
	assert.True(t, lit.MatchString("show-ip-brief"))

	_, err = CommandPattern("sh[[ow")
	assert.Error(t, err)
	_, err = CommandPattern("  ")
	assert.Error(t, err)
}

func TestKindText(t *testing.T) {
	for _, k := range []Kind{KindString, KindInt, KindStatus, KindList} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, k, back)
	}
	_, err := ParseKind("float")
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"up":                    StatusUp,
		"UP":                    StatusUp,
		"up(s)":                 StatusUp,
		"connected":             StatusUp,
		"down":                  StatusDown,
		"*down":                 StatusDown,
		"^down":                 StatusDown,
		"administratively down": StatusDown,
		"notconnect":            StatusDown,
	}
	for in, want := range cases {
		got, ok := ParseStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseStatus("testing")
	assert.False(t, ok)
}
