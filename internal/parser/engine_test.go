package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const showIPBrief = `Value Key interface (\S+)
Value address (\S+)
Value Status status (up|down)

Start
  ^(?i)interface\s+(ip-)?address\s+status\s*$$ -> Next
  ^\s*${interface}\s+${address}\s+${status}\s*$$ -> Record
`

func mustCompile(t *testing.T, id, text string) *Template {
	t.Helper()
	tpl, err := Compile(id, text)
	require.NoError(t, err)
	return tpl
}

func TestScenarioShowIPBrief(t *testing.T) {
	tpl := mustCompile(t, "show-ip-brief", showIPBrief)
	res, err := tpl.Parse("eth0  10.0.0.1  up\neth1  unassigned  down\n")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, map[string]string{"interface": "eth0", "address": "10.0.0.1", "status": "up"}, res.Records[0].Strings())
	assert.Equal(t, map[string]string{"interface": "eth1", "address": "unassigned", "status": "down"}, res.Records[1].Strings())
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 0, res.Unmatched)
	assert.Equal(t, 0, res.Partial)

	st, ok := res.Records[1].Get("status")
	require.True(t, ok)
	status, isStatus := st.Status()
	assert.True(t, isStatus)
	assert.Equal(t, StatusDown, status)
	assert.Equal(t, []string{"interface", "address", "status"}, []string{res.Records[0][0].Name, res.Records[0][1].Name, res.Records[0][2].Name}, "字段按声明顺序")
}

func TestEmptyInputNoRecordsMatched(t *testing.T) {
	tpl := mustCompile(t, "show-ip-brief", showIPBrief)
	for _, raw := range []string{"", "\n\n", "   \n"} {
		res, err := tpl.Parse(raw)
		var nrm *NoRecordsMatchedError
		require.ErrorAs(t, err, &nrm, "输入 %q", raw)
		assert.Equal(t, CodeNoRecordsMatched, nrm.Code())
		assert.Equal(t, "show-ip-brief", nrm.Template)
		assert.Empty(t, res.Records)
		assert.NotNil(t, res.Records)
	}
}

func TestGarbageInputReportsUnmatched(t *testing.T) {
	tpl := mustCompile(t, "show-ip-brief", showIPBrief)
	_, err := tpl.Parse("% Invalid input detected at '^' marker.\n")
	var nrm *NoRecordsMatchedError
	require.ErrorAs(t, err, &nrm)
	assert.Equal(t, 1, nrm.Unmatched)
	assert.Equal(t, 0, nrm.Matched)
}

func TestHeaderOnlyYieldsZeroRecordsWithoutError(t *testing.T) {
	tpl := mustCompile(t, "show-ip-brief", showIPBrief)
	res, err := tpl.Parse("Interface   IP-Address   Status\n")
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Matched)
}

func TestParseIsIdempotent(t *testing.T) {
	tpl := mustCompile(t, "show-ip-brief", showIPBrief)
	raw := "Interface Address Status\neth0 10.0.0.1 up\neth1 10.0.0.2 down\neth2 unassigned up\n"
	first, err := tpl.Parse(raw)
	require.NoError(t, err)
	second, err := tpl.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCoercionFailureDropsOnlyThatRecord(t *testing.T) {
	tpl := mustCompile(t, "counters", `Value Key port (\S+)
Value Integer errors (\S+)

Start
  ^${port}\s+${errors}\s*$$ -> Record
`)
	res, err := tpl.Parse("Gi0/1 0\nGi0/2 n/a\nGi0/3 12\n")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Partial)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "errors", res.Failures[0].Field)
	assert.Equal(t, "n/a", res.Failures[0].Value)
	assert.Equal(t, 2, res.Failures[0].Record)

	v, _ := res.Records[1].Get("errors")
	n, ok := v.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, 3, res.Matched)
}

func TestFilldownAndRequired(t *testing.T) {
	tpl := mustCompile(t, "routes", `Value Filldown vrf (\S+)
Value Required prefix (\S+)
Value nexthop (\S+)

Start
  ^VRF\s+${vrf}
  ^\s+${prefix}\s+via\s+${nexthop} -> Record
`)
	raw := "VRF red\n  10.0.0.0/8 via 1.1.1.1\n  10.1.0.0/16 via 1.1.1.2\nVRF blue\n  0.0.0.0/0 via 2.2.2.2\n"
	res, err := tpl.Parse(raw)
	require.NoError(t, err)
	require.Len(t, res.Records, 3, "只剩 Filldown 值的 EOF 记录因缺少 Required 字段被丢弃")
	assert.Equal(t, "red", res.Records[1].Strings()["vrf"])
	assert.Equal(t, "blue", res.Records[2].Strings()["vrf"])
}

func TestListAndContinue(t *testing.T) {
	tpl := mustCompile(t, "vlans", `Value Required vlan (\d+)
Value List ports (\S+)

Start
  ^VLAN -> Continue.Record
  ^VLAN\s+${vlan}
  ^\s+port\s+${ports}
`)
	raw := "VLAN 10\n  port Gi0/1\n  port Gi0/2\nVLAN 20\n  port Gi0/3\n"
	res, err := tpl.Parse(raw)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "10", res.Records[0].Strings()["vlan"])
	ports, _ := res.Records[0].Get("ports")
	assert.Equal(t, []string{"Gi0/1", "Gi0/2"}, ports.List())
	ports, _ = res.Records[1].Get("ports")
	assert.Equal(t, []string{"Gi0/3"}, ports.List())
	assert.Equal(t, 5, res.Matched, "Continue 命中多条规则的行只计一次")
}

func TestStateTransitionsAndEnd(t *testing.T) {
	tpl := mustCompile(t, "table", `Value name (\S+)
Value Integer size (\d+)

Start
  ^-{3,} -> Table

Table
  ^${name}\s+${size}\s*$$ -> Record
  ^END -> End
`)
	raw := "name size\nnot-a-row 1\n-----\na 1\nb 2\nEND\nc 3\n"
	res, err := tpl.Parse(raw)
	require.NoError(t, err)
	require.Len(t, res.Records, 2, "表头之前与 End 之后的行不产生记录")
	assert.Equal(t, "a", res.Records[0].Strings()["name"])
	assert.Equal(t, 2, res.Unmatched)
	assert.Equal(t, 4, res.Matched)
}

func TestClearActions(t *testing.T) {
	tpl := mustCompile(t, "clear", `Value Filldown host (\S+)
Value item (\S+)

Start
  ^host\s+${host}
  ^item\s+${item}
  ^reset -> Clearall
  ^drop -> Clear
  ^emit -> Record
`)
	res, err := tpl.Parse("host h1\nitem a\ndrop\nitem b\nemit\nreset\nitem c\nemit\n")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, map[string]string{"host": "h1", "item": "b"}, res.Records[0].Strings(), "Clear 保留 Filldown 值")
	assert.Equal(t, map[string]string{"item": "c"}, res.Records[1].Strings(), "Clearall 清除全部")
}

func TestExplicitEOFSuppressesImplicitRecord(t *testing.T) {
	text := "Value name (\\S+)\n\nStart\n  ^name\\s+${name}\n\nEOF\n"
	tpl := mustCompile(t, "eof", text)
	res, err := tpl.Parse("name x\n")
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Matched)

	implicit := mustCompile(t, "implicit", "Value name (\\S+)\n\nStart\n  ^name\\s+${name}\n")
	res, err = implicit.Parse("name x\n")
	require.NoError(t, err)
	require.Len(t, res.Records, 1, "未声明 EOF 时结尾隐式记录")
}

func TestErrorAction(t *testing.T) {
	tpl := mustCompile(t, "err", `Value name (\S+)

Start
  ^name\s+${name} -> Record
  ^% -> Error "device rejected command"
`)
	res, err := tpl.Parse("name a\n% Invalid input\n")
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 2, ae.Line)
	assert.Equal(t, "device rejected command", ae.Msg)
	assert.Empty(t, res.Records, "Error 动作使本次结果作废")
}

func TestValueRules(t *testing.T) {
	tpl := mustCompile(t, "rules", `Value Trim,Lower desc (.+)
Value Upper mac (\S+)

Start
  ^desc:${desc}$$
  ^mac\s+${mac}
`)
	res, err := tpl.Parse("desc:   Uplink To CORE  \nmac aa:bb:cc\n")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, map[string]string{"desc": "uplink to core", "mac": "AA:BB:CC"}, res.Records[0].Strings())
}

func TestCRLFInput(t *testing.T) {
	tpl := mustCompile(t, "show-ip-brief", showIPBrief)
	res, err := tpl.Parse("eth0 10.0.0.1 up\r\neth1 10.0.0.2 down\r\n")
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
}
