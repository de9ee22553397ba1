package report_test

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []parser.Record {
	return []parser.Record{
		{
			{Name: "interface", Value: parser.StringValue("Gi0/0")},
			{Name: "address", Value: parser.StringValue("10.0.0.1")},
			{Name: "status", Value: parser.StatusValue(parser.StatusUp)},
			{Name: "mtu", Value: parser.IntValue(1500)},
		},
		{
			{Name: "interface", Value: parser.StringValue("Gi0/1")},
			{Name: "address", Value: parser.StringValue("unassigned")},
			{Name: "status", Value: parser.StatusValue(parser.StatusDown)},
			{Name: "mtu", Value: parser.IntValue(9000)},
		},
	}
}

func TestRenderText(t *testing.T) {
	out, err := report.Render(sampleRecords(), report.FormatSpec{
		Format: report.FormatText,
		Columns: []report.ColumnSpec{
			{Field: "interface", Header: "Interface"},
			{Field: "mtu", Header: "MTU", Align: report.AlignRight, MinWidth: 6},
			{Field: "status"},
		},
	})
	require.NoError(t, err)
	want := "" +
		"Interface  MTU     status\n" +
		"---------  ------  ------\n" +
		"Gi0/0        1500  up\n" +
		"Gi0/1        9000  down\n"
	assert.Equal(t, want, out)
}

func TestRenderTextWideCharacters(t *testing.T) {
	recs := []parser.Record{{{Name: "name", Value: parser.StringValue("核心交换机")}, {Name: "n", Value: parser.IntValue(1)}}}
	out, err := report.Render(recs, report.FormatSpec{Format: report.FormatText})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "----------  -", lines[1], "中文按两列宽度计算")
	assert.Equal(t, "核心交换机  1", lines[2])
}

func TestRenderDecimals(t *testing.T) {
	recs := []parser.Record{{
		{Name: "cpu", Value: parser.StringValue("12.345")},
		{Name: "ports", Value: parser.IntValue(48)},
		{Name: "name", Value: parser.StringValue("n/a")},
	}}
	out, err := report.Render(recs, report.FormatSpec{
		Format: report.FormatCSV,
		Columns: []report.ColumnSpec{
			{Field: "cpu", Decimals: 1},
			{Field: "ports", Decimals: 2},
			{Field: "name", Decimals: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "cpu,ports,name\n12.3,48.00,n/a\n", out)
}

func TestRenderDoesNotMutate(t *testing.T) {
	recs := sampleRecords()
	before := make([]parser.Record, len(recs))
	for i, r := range recs {
		before[i] = r.Clone()
	}
	for _, f := range report.Formats {
		_, err := report.Render(recs, report.FormatSpec{Format: f, Columns: []report.ColumnSpec{{Field: "mtu", Decimals: 2}}})
		require.NoError(t, err, string(f))
	}
	assert.Equal(t, before, recs)
}

func TestRenderDeterministic(t *testing.T) {
	for _, f := range report.Formats {
		a, err := report.Render(sampleRecords(), report.FormatSpec{Format: f, Title: "Interfaces"})
		require.NoError(t, err)
		b, err := report.Render(sampleRecords(), report.FormatSpec{Format: f, Title: "Interfaces"})
		require.NoError(t, err)
		assert.Equal(t, a, b, string(f))
	}
}

func TestRenderMarkdown(t *testing.T) {
	recs := []parser.Record{{{Name: "a", Value: parser.StringValue("x|y")}, {Name: "b", Value: parser.IntValue(2)}}}
	out, err := report.Render(recs, report.FormatSpec{
		Format:  "md",
		Title:   "T",
		Columns: []report.ColumnSpec{{Field: "a"}, {Field: "b", Align: report.AlignRight}},
	})
	require.NoError(t, err)
	assert.Equal(t, "## T\n\n| a | b |\n| --- | ---: |\n| x\\|y | 2 |\n", out)
}

func TestRenderCSVQuoting(t *testing.T) {
	recs := []parser.Record{{{Name: "desc", Value: parser.StringValue(`uplink, "core"`)}}}
	out, err := report.Render(recs, report.FormatSpec{Format: report.FormatCSV})
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"desc"}, {`uplink, "core"`}}, rows)
}

func TestRenderJSONKeepsTypes(t *testing.T) {
	recs := sampleRecords()
	recs[0] = append(recs[0], parser.Field{Name: "vlans", Value: parser.ListValue([]string{"10", "20"})})
	out, err := report.Render(recs[:1], report.FormatSpec{
		Format:  report.FormatJSON,
		Columns: []report.ColumnSpec{{Field: "interface"}, {Field: "mtu"}, {Field: "vlans"}, {Field: "missing"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"interface":"Gi0/0","mtu":1500,"vlans":["10","20"]}]`, out)

	empty, err := report.Render(nil, report.FormatSpec{Format: report.FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, "[]\n", empty)
}

func TestRenderHTMLEscapes(t *testing.T) {
	recs := []parser.Record{{{Name: "desc", Value: parser.StringValue("<script>")}}}
	out, err := report.Render(recs, report.FormatSpec{Format: report.FormatHTML, Title: "R&D"})
	require.NoError(t, err)
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "<h2>R&amp;D</h2>")
	assert.NotContains(t, out, "<script>")
}

func TestRenderErrors(t *testing.T) {
	_, err := report.Render(nil, report.FormatSpec{Format: "pdf"})
	assert.Error(t, err)
	_, err = report.Render(nil, report.FormatSpec{Columns: []report.ColumnSpec{{Field: ""}}})
	assert.Error(t, err)
	_, err = report.Render(nil, report.FormatSpec{Columns: []report.ColumnSpec{{Field: "a", Align: "justify"}}})
	assert.Error(t, err)
	_, err = report.Render(nil, report.FormatSpec{Columns: []report.ColumnSpec{{Field: "a", Decimals: -1}}})
	assert.Error(t, err)
}

func TestRenderReparseRoundTrip(t *testing.T) {
	for _, title := range []string{"", "Core Switch Port Table"} {
		t.Run("title="+title, func(t *testing.T) {
			assertReparse(t, title)
		})
	}
}

func assertReparse(t *testing.T, title string) {
	recs := sampleRecords()
	out, err := report.Render(recs, report.FormatSpec{Format: report.FormatText, Title: title})
	require.NoError(t, err)

	tpl, err := parser.IdentityTemplate("report", "interfaces", []parser.FieldSpec{
		{Name: "interface", Kind: parser.KindString},
		{Name: "address", Kind: parser.KindString},
		{Name: "status", Kind: parser.KindStatus},
		{Name: "mtu", Kind: parser.KindInt},
	})
	require.NoError(t, err)
	res, err := tpl.Parse(out)
	require.NoError(t, err)
	require.Len(t, res.Records, len(recs), "标题与表头不应产生记录")
	assert.Equal(t, 0, res.Unmatched)
	for i := range recs {
		assert.Equal(t, recs[i].Strings(), res.Records[i].Strings(), "第 %d 条记录", i)
		mtu, ok := res.Records[i].Get("mtu")
		require.True(t, ok)
		want, _ := recs[i][3].Value.Int()
		got, isInt := mtu.Int()
		assert.True(t, isInt)
		assert.Equal(t, want, got)
	}
}
