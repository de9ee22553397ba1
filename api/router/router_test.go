package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/sshcollectorpro/netauto/addone/interact/platforms/cisco_ios"
	_ "github.com/sshcollectorpro/netauto/addone/interact/platforms/huawei_vrp"
	"github.com/sshcollectorpro/netauto/addone/templates"
	"github.com/sshcollectorpro/netauto/api/router"
	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/internal/credential"
	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/report"
	"github.com/sshcollectorpro/netauto/internal/service"
	"github.com/sshcollectorpro/netauto/simulate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hosts 按主机名连接到模拟设备
type hosts map[string]*simulate.Dialer

func (h hosts) Dial(ctx context.Context, creds credential.Credentials) (driver.Channel, error) {
	d, ok := h[creds.Host]
	if !ok {
		return nil, &driver.ConnectTimeoutError{Host: creds.Host, Err: context.DeadlineExceeded}
	}
	return d.Dial(ctx, creds)
}

type env struct {
	engine *gin.Engine
	devs   map[string]*simulate.Device
	sink   *report.LocalSink
}

func setup(t *testing.T) *env {
	t.Helper()
	r1 := simulate.NewCiscoDevice("R1")
	r1.Rejected = []string{"BAD-COMMAND"}
	hw := simulate.NewHuaweiDevice("HW1")
	dialers := hosts{"R1": {Device: r1}, "HW1": {Device: hw}}

	cfg := &config.Config{}
	cfg.SSH.IdleTimeout = 300 * time.Millisecond
	cfg.SSH.CommandTimeout = 2 * time.Second
	cfg.Runner.Concurrent = 2

	reg := parser.NewRegistry()
	_, err := templates.Load(reg)
	require.NoError(t, err)

	creds := credential.Static{Creds: credential.Credentials{Username: "admin", Secret: "admin"}}
	runner := service.NewRunner(cfg, dialers, creds, reg)
	t.Cleanup(func() { _ = runner.Close() })

	db, err := database.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "netauto.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	sink := &report.LocalSink{BaseDir: t.TempDir()}
	engine := router.SetupRouter(router.Deps{
		Runner: runner,
		DB:     db,
		Source: func(ctx context.Context, f database.DeviceFilter) ([]service.Target, error) {
			return service.LoadTargets(ctx, "", db, f)
		},
		Sink:         sink,
		ReportPrefix: "api",
		Mode:         gin.TestMode,
	})
	return &env{engine: engine, devs: map[string]*simulate.Device{"R1": r1, "HW1": hw}, sink: sink}
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndTemplates(t *testing.T) {
	e := setup(t)

	w := e.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Greater(t, health["templates"].(float64), float64(0))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = e.do(t, http.MethodGet, "/api/v1/templates?platform=cisco_ios", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []parser.Entry
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &entries))
	assert.Len(t, entries, 3)
	for _, en := range entries {
		assert.Equal(t, "cisco_ios", en.Platform)
	}

	w = e.do(t, http.MethodGet, "/api/v1/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParseEndpoint(t *testing.T) {
	e := setup(t)
	out := "Interface                  IP-Address      OK? Method Status                Protocol\n" +
		"GigabitEthernet0/0         10.0.0.1        YES manual up                    up\n"

	w := e.do(t, http.MethodPost, "/api/v1/parse", gin.H{"platform": "cisco_ios", "command": "sh ip int br", "output": out})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Template string                   `json:"template"`
		Records  []map[string]interface{} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.Equal(t, "cisco_ios_show_ip_interface_brief", res.Template)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "10.0.0.1", res.Records[0]["address"])

	w = e.do(t, http.MethodPost, "/api/v1/parse", gin.H{"platform": "cisco_ios", "command": "show clock", "output": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, parser.CodeNoTemplate, decode(t, w).Code)

	w = e.do(t, http.MethodPost, "/api/v1/parse", gin.H{"platform": "cisco_ios", "command": "sh ip int br", "output": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, parser.CodeNoRecordsMatched, decode(t, w).Code)

	inline := "Value name (\\S+)\n\nStart\n  ^name: ${name} -> Record\n"
	w = e.do(t, http.MethodPost, "/api/v1/parse", gin.H{"template": inline, "output": "name: a\nname: b\n"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.Len(t, res.Records, 2)

	w = e.do(t, http.MethodPost, "/api/v1/parse", gin.H{"template": "Value broken", "output": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/parse", gin.H{"output": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRenderEndpoint(t *testing.T) {
	e := setup(t)
	body := gin.H{
		"format":  "csv",
		"records": []gin.H{{"interface": "Gi0/0", "mtu": 1500}, {"interface": "Gi0/1", "mtu": 9000}},
		"columns": []gin.H{{"field": "interface"}, {"field": "mtu"}},
	}
	w := e.do(t, http.MethodPost, "/api/v1/render", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "interface,mtu\nGi0/0,1500\nGi0/1,9000\n", w.Body.String())

	body["format"] = "pdf"
	w = e.do(t, http.MethodPost, "/api/v1/render", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body["format"] = "md"
	body["store"] = true
	w = e.do(t, http.MethodPost, "/api/v1/render", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var obj report.StoredObject
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &obj))
	assert.True(t, strings.HasPrefix(obj.URI, "file://"))
	assert.True(t, strings.HasSuffix(obj.URI, ".md"))
}

func TestShowEndpoint(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/v1/show", gin.H{
		"devices":  []gin.H{{"name": "R1", "host": "R1", "platform": "cisco_ios", "username": "admin", "password": "admin"}},
		"commands": []string{"show ip interface brief"},
		"format":   "text",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "1/1 devices succeeded (100.0%), 0 failed, 2 records", resp.Message)
	var data struct {
		Report string `json:"report"`
		Run    struct {
			Devices []struct {
				Device   string `json:"device"`
				Commands []struct {
					Command string `json:"command"`
					Success bool   `json:"success"`
				} `json:"commands"`
			} `json:"devices"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Contains(t, data.Report, "GigabitEthernet0/0")
	require.Len(t, data.Run.Devices, 1)
	assert.True(t, data.Run.Devices[0].Commands[0].Success)

	w = e.do(t, http.MethodPost, "/api/v1/show", gin.H{"devices": []gin.H{{"host": "R1"}}, "commands": []string{"show version"}, "mode": "config"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "show 接口不接受配置模式")

	w = e.do(t, http.MethodPost, "/api/v1/show", gin.H{"commands": []string{"show version"}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "没有设备")

	w = e.do(t, http.MethodPost, "/api/v1/show", gin.H{"devices": []gin.H{{"host": "R1"}}, "commands": []string{" "}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_COMMAND", decode(t, w).Code)
}

func TestConfigEndpoint(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/v1/config", gin.H{
		"devices":  []gin.H{{"host": "R1", "platform": "cisco_ios"}},
		"commands": []string{"set X", "BAD-COMMAND", "set Y"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0/1 devices succeeded (0.0%), 1 failed, 0 records", decode(t, w).Message)
	assert.Equal(t, []string{"set X", "set Y"}, e.devs["R1"].RunningConfig())
}

func TestConfigSaveAndBackupEndpoints(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/v1/config", gin.H{
		"devices":  []gin.H{{"host": "HW1", "platform": "huawei_vrp"}},
		"commands": []string{"ntp-service unicast-server 10.0.0.5"},
		"save":     true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1/1 devices succeeded (100.0%), 0 failed, 0 records", decode(t, w).Message)
	assert.Equal(t, 1, e.devs["HW1"].Saves())

	w = e.do(t, http.MethodPost, "/api/v1/backup", gin.H{
		"devices": []gin.H{{"host": "R1", "platform": "cisco_ios"}, {"host": "HW1", "platform": "huawei_vrp"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Summary report.SummaryLine  `json:"summary"`
		Backup  service.BackupReport `json:"backup"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, 2, data.Summary.Succeeded)
	require.Len(t, data.Backup.Devices, 2)
	require.NotNil(t, data.Backup.Devices[1].Object)
	assert.True(t, strings.HasPrefix(data.Backup.Devices[1].Object.URI, "file://"))

	files, err := filepath.Glob(filepath.Join(e.sink.BaseDir, "backup_*.cfg"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestLoopbackEndpoint(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/v1/config/loopback", gin.H{
		"devices":   []gin.H{{"host": "R1", "platform": "cisco_ios"}, {"host": "HW1", "platform": "huawei_vrp"}},
		"loopbacks": []gin.H{{"number": 100, "ip": "10.100.0.1", "mask": "255.255.255.255", "description": "router id"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Verified int `json:"verified"`
		Total    int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, 2, data.Total)
	assert.Equal(t, 2, data.Verified)

	w = e.do(t, http.MethodPost, "/api/v1/config/loopback", gin.H{
		"devices":   []gin.H{{"host": "R1"}},
		"loopbacks": []gin.H{{"number": 1, "ip": "300.1.1.1", "mask": "255.255.255.255", "description": "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevicesAndSelection(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/v1/devices", gin.H{"name": "r1", "host": "R1", "platform": "Cisco-IOS", "tags": "core", "enabled": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, "/api/v1/devices", gin.H{"name": "hw1", "host": "HW1", "platform": "huawei_vrp", "tags": "edge", "enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/api/v1/devices", gin.H{"name": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/devices?tag=core", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var devs []map[string]interface{}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &devs))
	require.Len(t, devs, 1)
	assert.Equal(t, "cisco_ios", devs[0]["platform"])

	w = e.do(t, http.MethodPost, "/api/v1/show", gin.H{"select": gin.H{"tag": "edge"}, "commands": []string{"display version"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1/1 devices succeeded (100.0%), 0 failed, 0 records", decode(t, w).Message)

	w = e.do(t, http.MethodDelete, "/api/v1/devices/hw1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodDelete, "/api/v1/devices/hw1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
