package parser

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/sshcollectorpro/netauto/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

const versionTemplate = "Value version (\\S+)\n\nStart\n  ^Version\\s+${version}\n"

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("cisco_ios", "sh[[ow]] ip int[[erface]] br[[ief]]", SourceManual, mustCompile(t, "brief", showIPBrief)))

	tpl, err := reg.Lookup("Cisco-IOS", "  SH   IP  INT BR ")
	require.NoError(t, err, "平台与命令归一化后匹配")
	assert.Equal(t, "brief", tpl.ID())

	_, err = reg.Lookup("huawei_vrp", "show ip interface brief")
	var nt *NoTemplateFoundError
	require.ErrorAs(t, err, &nt)
	assert.Equal(t, CodeNoTemplate, nt.Code())
	assert.Equal(t, "huawei_vrp", nt.Platform)
	assert.Equal(t, "show ip interface brief", nt.Command)

	res, err := reg.Parse("cisco_ios", "show version", "anything")
	require.ErrorAs(t, err, &nt, "未注册命令不返回空结果")
	assert.NotNil(t, res.Records)
}

func TestExpandCommandMatchesPattern(t *testing.T) {
	for _, expr := range []string{"sh[[ow]] ver[[sion]]", "dis[[play]] ip int[[erface]] br[[ief]]", "show-ip-brief"} {
		full := ExpandCommand(expr)
		assert.NotContains(t, full, "[[")
		re, err := CommandPattern(expr)
		require.NoError(t, err)
		assert.True(t, re.MatchString(full), "完整写法应命中缩写表达式: %s", full)
	}
	assert.Equal(t, "show version", ExpandCommand(" SH[[OW]]  ver[[sion]] "))
}

func TestSameCommand(t *testing.T) {
	assert.True(t, SameCommand("show ip interface brief", "sh ip int br"))
	assert.True(t, SameCommand("SH  IP INT BR", "show ip interface brief"))
	assert.True(t, SameCommand("dis[[play]] ver[[sion]]", "display version"))
	assert.False(t, SameCommand("show version", "show vlan"))
	assert.False(t, SameCommand("show ip", "show ip interface"))
	assert.False(t, SameCommand("", ""))
}

func TestRegistryLaterRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("generic", "show version", SourceEmbedded, mustCompile(t, "first", versionTemplate)))
	require.NoError(t, reg.Register("generic", "sh[[ow]] ver[[sion]]", SourceDB, mustCompile(t, "second", versionTemplate)))

	tpl, err := reg.Lookup("generic", "show version")
	require.NoError(t, err)
	assert.Equal(t, "second", tpl.ID())
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryEntriesSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("b", "show b", SourceManual, mustCompile(t, "b", versionTemplate)))
	require.NoError(t, reg.Register("a", "show z", SourceManual, mustCompile(t, "az", versionTemplate)))
	require.NoError(t, reg.Register("a", "show a", SourceManual, mustCompile(t, "aa", versionTemplate)))

	entries := reg.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"aa", "az", "b"}, []string{entries[0].Template, entries[1].Template, entries[2].Template})
	assert.Equal(t, "version", entries[0].Fields[0].Name)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("x", "show x", SourceManual, nil))
	assert.Error(t, reg.Register("x", "sh[[ow", SourceManual, mustCompile(t, "x", versionTemplate)))
	assert.Equal(t, 0, reg.Len())
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"pack/index.yaml": {Data: []byte(`templates:
  - platform: lab
    command: sh[[ow]] ver[[sion]]
    file: lab_show_version.textfsm
    types:
      version: upper
`)},
		"pack/lab_show_version.textfsm": {Data: []byte("Value version (\\S+)\n\nStart\n  ^Version\\s+${version}\n")},
	}
	reg := NewRegistry()
	n, err := reg.LoadFS(fsys, "pack", SourceDir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := reg.Parse("lab", "sh ver", "Version abc\n")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "ABC", res.Records[0].Strings()["version"], "index 中的类型覆盖生效")
	assert.Equal(t, "lab_show_version", res.Template)
	assert.Equal(t, SourceDir, reg.Entries()[0].Source)
}

func TestLoadFSErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.LoadFS(fstest.MapFS{}, ".", SourceDir)
	assert.Error(t, err, "缺少 index.yaml")

	_, err = reg.LoadFS(fstest.MapFS{
		"index.yaml": {Data: []byte("templates:\n  - platform: lab\n    command: show x\n    file: missing.textfsm\n")},
	}, ".", SourceDir)
	assert.Error(t, err, "模板文件缺失")

	_, err = reg.LoadFS(fstest.MapFS{
		"index.yaml": {Data: []byte("templates:\n  - platform: lab\n    file: x.textfsm\n")},
	}, ".", SourceDir)
	assert.Error(t, err, "缺少命令")

	_, err = reg.LoadFS(fstest.MapFS{
		"index.yaml": {Data: []byte("templates:\n  - platform: lab\n    command: show x\n    file: x.textfsm\n")},
		"x.textfsm":  {Data: []byte("Start\n  ^x\n")},
	}, ".", SourceDir)
	var se *SyntaxError
	assert.ErrorAs(t, err, &se, "模板编译失败")
}

func TestLoadDir(t *testing.T) {
	_, err := NewRegistry().LoadDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLoadDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: filepath.Join(t.TempDir(), "templates.db")},
		&gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.TemplateRecord{}))

	require.NoError(t, db.Create(&model.TemplateRecord{
		Platform: "lab", Command: "sh[[ow]] mtu", Name: "lab_mtu",
		Body:  "Value MTU (\\S+)\n\nStart\n  ^MTU\\s+${MTU}\n",
		Types: `{"MTU":"int"}`, Enabled: true,
	}).Error)
	off := &model.TemplateRecord{Platform: "lab", Command: "show off", Name: "lab_off", Body: versionTemplate, Enabled: true}
	require.NoError(t, db.Create(off).Error)
	require.NoError(t, db.Model(off).Update("enabled", false).Error)

	reg := NewRegistry()
	n, err := reg.LoadDB(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "只加载启用的模板")

	res, err := reg.Parse("lab", "sh mtu", "MTU 1500\n")
	require.NoError(t, err)
	v, _ := res.Records[0].Get("MTU")
	mtu, ok := v.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(1500), mtu)
	assert.Equal(t, SourceDB, reg.Entries()[0].Source)
}

func TestIdentityTemplate(t *testing.T) {
	tpl, err := IdentityTemplate("report", "interfaces", []FieldSpec{
		{Name: "interface"}, {Name: "mtu", Kind: KindInt}, {Name: "status", Kind: KindStatus},
	})
	require.NoError(t, err)
	res, err := tpl.Parse("interface  mtu   status\n---------  ----  ------\nGi0/1      1500  up\nGi0/2      9000  down\n")
	require.NoError(t, err)
	require.Len(t, res.Records, 2, "表头与分隔线不产生记录")
	mtu, _ := res.Records[1].Get("mtu")
	n, ok := mtu.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(9000), n)
	assert.Equal(t, 0, res.Unmatched)

	_, err = IdentityTemplate("report", "x", nil)
	assert.Error(t, err)
}

func TestRecordHelpers(t *testing.T) {
	rec, err := RecordFromMap(map[string]interface{}{
		"name": "Gi0/1", "mtu": float64(1500), "ratio": 0.5, "vlans": []interface{}{"10", "20"}, "skip": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mtu", "name", "ratio", "vlans"}, []string{rec[0].Name, rec[1].Name, rec[2].Name, rec[3].Name})
	n, ok := rec[0].Value.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(1500), n)
	assert.Equal(t, "0.5", rec[2].Value.String())
	assert.Equal(t, "10,20", rec[3].Value.String())

	b, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"mtu":1500,"name":"Gi0/1","ratio":"0.5","vlans":["10","20"]}`, string(b))
	assert.Equal(t, `{"mtu":1500,"name":"Gi0/1","ratio":"0.5","vlans":["10","20"]}`, string(b), "保持字段顺序")

	clone := rec.Clone()
	clone[3].Value.list[0] = "99"
	assert.Equal(t, "10,20", rec[3].Value.String(), "Clone 为深拷贝")

	_, err = RecordFromMap(map[string]interface{}{"bad": struct{}{}})
	assert.Error(t, err)
}
