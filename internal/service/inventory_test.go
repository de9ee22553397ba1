package service_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/model"
	"github.com/sshcollectorpro/netauto/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventoryYAML = `
devices:
  - name: core-1
    host: 10.0.0.1
    platform: Cisco-IOS
    credential: core
    tags: core,dc1
  - name: edge-1
    host: 10.0.0.2
    port: 2222
    platform: huawei_vrp
    tags: edge
  - name: lab-1
    host: 10.0.0.3
    enabled: false
`

func TestReadInventory(t *testing.T) {
	devs, err := service.ReadInventory(strings.NewReader(inventoryYAML))
	require.NoError(t, err)
	require.Len(t, devs, 3)
	assert.Equal(t, "cisco_ios", devs[0].Platform, "平台名规范化")
	assert.Equal(t, 22, devs[0].Port, "端口默认 22")
	assert.True(t, devs[0].Enabled, "未填写 enabled 视为启用")
	assert.Equal(t, 2222, devs[1].Port)
	assert.Equal(t, "default", devs[2].Platform)
	assert.False(t, devs[2].Enabled)

	_, err = service.ReadInventory(strings.NewReader("devices:\n  - name: a\n    host: h\n  - name: a\n    host: h2\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = service.ReadInventory(strings.NewReader("devices:\n  - name: a\n"))
	assert.ErrorContains(t, err, "host is required")

	_, err = service.ReadInventory(strings.NewReader("devices:\n  - name: a\n    host: h\n    password: x\n"))
	assert.Error(t, err, "未知字段报错，口令不入清单")

	devs, err = service.ReadInventory(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestFilterDevices(t *testing.T) {
	devs, err := service.ReadInventory(strings.NewReader(inventoryYAML))
	require.NoError(t, err)

	assert.Len(t, service.FilterDevices(devs, database.DeviceFilter{}), 2)
	assert.Len(t, service.FilterDevices(devs, database.DeviceFilter{IncludeDisabled: true}), 3)
	got := service.FilterDevices(devs, database.DeviceFilter{Tag: "DC1"})
	require.Len(t, got, 1)
	assert.Equal(t, "core-1", got[0].Name)
	got = service.FilterDevices(devs, database.DeviceFilter{Platform: "Huawei-VRP"})
	require.Len(t, got, 1)
	assert.Equal(t, "edge-1", got[0].Name)
	assert.Empty(t, service.FilterDevices(devs, database.DeviceFilter{Names: []string{"lab-1"}}))
}

func TestLoadTargets(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(inventoryYAML), 0o644))

	targets, err := service.LoadTargets(ctx, path, nil, database.DeviceFilter{Tag: "core"})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, service.Target{Name: "core-1", Host: "10.0.0.1", Port: 22, Platform: "cisco_ios", Credential: "core"}, targets[0])

	_, err = service.LoadTargets(ctx, path, nil, database.DeviceFilter{Tag: "nothing"})
	assert.Error(t, err)

	_, err = service.LoadTargets(ctx, "", nil, database.DeviceFilter{})
	assert.Error(t, err)

	db, err := database.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "netauto.db")})
	require.NoError(t, err)
	defer database.Close(db)
	_, err = database.ImportDevices(ctx, db, []model.Device{{Name: "sw-1", Host: "10.1.0.1", Platform: "h3c_comware", Enabled: true}})
	require.NoError(t, err)

	targets, err = service.LoadTargets(ctx, "", db, database.DeviceFilter{})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "h3c_comware", targets[0].Platform)
}
