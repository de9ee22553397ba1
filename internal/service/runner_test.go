package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/sshcollectorpro/netauto/addone/interact/platforms/cisco_ios"
	_ "github.com/sshcollectorpro/netauto/addone/interact/platforms/huawei_vrp"
	"github.com/sshcollectorpro/netauto/addone/templates"
	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/internal/credential"
	"github.com/sshcollectorpro/netauto/internal/dispatch"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/service"
	"github.com/sshcollectorpro/netauto/simulate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fleet 按主机名分发到各自的模拟设备
type fleet struct {
	mu      sync.Mutex
	dialers map[string]*simulate.Dialer
	// timeouts 每台主机前 N 次拨号返回建连超时
	timeouts map[string]int
}

func newFleet(devs ...*simulate.Device) *fleet {
	f := &fleet{dialers: map[string]*simulate.Dialer{}, timeouts: map[string]int{}}
	for _, d := range devs {
		f.dialers[d.Hostname] = &simulate.Dialer{Device: d, Chunk: 23}
	}
	return f
}

func (f *fleet) Dial(ctx context.Context, creds credential.Credentials) (driver.Channel, error) {
	f.mu.Lock()
	d, ok := f.dialers[creds.Host]
	if f.timeouts[creds.Host] > 0 {
		f.timeouts[creds.Host]--
		f.mu.Unlock()
		return nil, &driver.ConnectTimeoutError{Host: creds.Host, Err: context.DeadlineExceeded}
	}
	f.mu.Unlock()
	if !ok {
		return nil, &driver.ConnectTimeoutError{Host: creds.Host, Err: fmt.Errorf("no route to %s", creds.Host)}
	}
	return d.Dial(ctx, creds)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SSH.IdleTimeout = 300 * time.Millisecond
	cfg.SSH.CommandTimeout = 2 * time.Second
	cfg.Runner.Concurrent = 4
	cfg.Runner.Retries = 1
	return cfg
}

func testRegistry(t *testing.T) *parser.Registry {
	t.Helper()
	reg := parser.NewRegistry()
	_, err := templates.Load(reg)
	require.NoError(t, err)
	return reg
}

func newRunner(t *testing.T, f *fleet) *service.Runner {
	t.Helper()
	creds := credential.Static{Creds: credential.Credentials{Username: "admin", Secret: "admin"}}
	r := service.NewRunner(testConfig(), f, creds, testRegistry(t))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func target(dev *simulate.Device, platform string) service.Target {
	return service.Target{Name: dev.Hostname, Host: dev.Hostname, Platform: platform}
}

func TestRunShowAndParse(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	dev.Commands = map[string]string{"show clock": "*10:15:01.123 UTC Sat Mar 9 2024"}
	r := newRunner(t, newFleet(dev))

	res := r.Run(context.Background(), target(dev, "cisco_ios"), service.Job{
		Commands: []string{"show ip interface brief", "show clock"},
		Mode:     driver.Exec,
		Parse:    true,
	})
	require.Nil(t, res.Error)
	require.Len(t, res.Commands, 2)

	brief := res.Commands[0]
	assert.True(t, brief.Success)
	assert.Equal(t, "cisco_ios_show_ip_interface_brief", brief.Template)
	require.Len(t, brief.Records, 2)
	name, _ := brief.Records[0].Get("interface")
	assert.Equal(t, "GigabitEthernet0/0", name.String())
	status, _ := brief.Records[1].Get("status")
	assert.Equal(t, "down", status.String(), "administratively down 归一为 down")

	clock := res.Commands[1]
	assert.Empty(t, clock.Records)
	require.NotNil(t, clock.ParseError, "无模板时解析错误附在结果上")
	assert.Equal(t, parser.CodeNoTemplate, clock.ParseError.Code)
	assert.NotEmpty(t, clock.Output, "原始输出保留")
}

func TestRunConfigScenario(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	dev.Rejected = []string{"BAD-COMMAND"}
	r := newRunner(t, newFleet(dev))

	res := r.Run(context.Background(), target(dev, "cisco_ios"), service.Job{
		Commands: []string{"set X", "BAD-COMMAND", "set Y"},
		Mode:     driver.Config,
	})
	require.Nil(t, res.Error)
	require.Len(t, res.Commands, 3)
	assert.True(t, res.Commands[0].Success)
	assert.False(t, res.Commands[1].Success)
	assert.True(t, res.Commands[2].Success)
	assert.Equal(t, driver.Privileged, res.Mode, "结束后处于特权模式")
	assert.Equal(t, []string{"set X", "set Y"}, dev.RunningConfig())

	o := res.Outcome()
	assert.Equal(t, 3, o.Commands)
	assert.Equal(t, 1, o.Failed)
	assert.False(t, o.Succeeded())
}

func TestRunConfigSavesAfterSuccess(t *testing.T) {
	cisco := simulate.NewCiscoDevice("R1")
	huawei := simulate.NewHuaweiDevice("HW1")
	r := newRunner(t, newFleet(cisco, huawei))
	ctx := context.Background()

	res := r.Run(ctx, target(cisco, "cisco_ios"), service.Job{Commands: []string{"ntp server 10.0.0.5"}, Mode: driver.Config, Save: true})
	require.Nil(t, res.Error)
	require.Len(t, res.Commands, 2)
	assert.Equal(t, "write memory", res.Commands[1].Command)
	assert.True(t, res.Commands[1].Success)
	assert.Equal(t, 1, cisco.Saves())
	assert.Equal(t, driver.Privileged, res.Mode)

	res = r.Run(ctx, target(huawei, "huawei_vrp"), service.Job{Commands: []string{"ntp-service unicast-server 10.0.0.5"}, Mode: driver.Config, Save: true})
	require.Nil(t, res.Error)
	require.Len(t, res.Commands, 2)
	assert.Equal(t, "save", res.Commands[1].Command)
	assert.Contains(t, res.Commands[1].Output, "successfully", "[Y/N] 确认被自动应答")
	assert.Equal(t, 1, huawei.Saves())
}

func TestRunConfigNotSavedAfterRejection(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	dev.Rejected = []string{"BAD-COMMAND"}
	r := newRunner(t, newFleet(dev))

	res := r.Run(context.Background(), target(dev, "cisco_ios"), service.Job{
		Commands: []string{"set X", "BAD-COMMAND"},
		Mode:     driver.Config,
		Save:     true,
	})
	require.NotNil(t, res.Error)
	assert.Equal(t, "NOT_SAVED", res.Error.Code)
	assert.Len(t, res.Commands, 2, "不追加保存命令")
	assert.Zero(t, dev.Saves())
}

func TestRunAbortPolicy(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	dev.Rejected = []string{"BAD-COMMAND"}
	r := newRunner(t, newFleet(dev))

	res := r.Run(context.Background(), target(dev, "cisco_ios"), service.Job{
		Commands: []string{"set X", "BAD-COMMAND", "set Y"},
		Mode:     driver.Config,
		Policy:   dispatch.Policy{AbortOnFirstFailure: true},
	})
	require.NotNil(t, res.Error)
	assert.Equal(t, "ABORTED", res.Error.Code)
	assert.Len(t, res.Commands, 2)
}

func TestRunAuthenticationFailureNotRetried(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	f := newFleet(dev)
	r := newRunner(t, f)

	tgt := target(dev, "cisco_ios")
	tgt.Creds = &credential.Credentials{Username: "admin", Secret: "wrong"}
	res := r.Run(context.Background(), tgt, service.Job{Commands: []string{"show version"}, Mode: driver.Exec})
	require.NotNil(t, res.Error)
	assert.Equal(t, driver.CodeAuthFailed, res.Error.Code)
	assert.NotContains(t, res.Error.Message, "wrong", "错误信息不含口令")
	assert.Equal(t, 0, f.dialers["R1"].Dials())
}

func TestRunRetriesConnectTimeout(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	f := newFleet(dev)
	f.timeouts["R1"] = 1
	r := newRunner(t, f)

	res := r.Run(context.Background(), target(dev, "cisco_ios"), service.Job{Commands: []string{"show version"}, Mode: driver.Exec})
	require.Nil(t, res.Error, "一次超时后重试成功")
	assert.Contains(t, res.Commands[0].Output, "Cisco IOS Software")

	f.timeouts["R1"] = 5
	res = r.Run(context.Background(), service.Target{Name: "R1b", Host: "R1", Port: 2222, Platform: "cisco_ios"}, service.Job{Commands: []string{"show version"}, Mode: driver.Exec})
	require.NotNil(t, res.Error)
	assert.Equal(t, driver.CodeConnectTimeout, res.Error.Code)
}

func TestRunPrivilegedJobElevates(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	r := newRunner(t, newFleet(dev))

	res := r.Run(context.Background(), target(dev, "cisco_ios"), service.Job{Commands: []string{"show running-config"}, Mode: driver.Privileged})
	require.Nil(t, res.Error)
	assert.Equal(t, driver.Privileged, res.Mode)
	assert.Contains(t, res.Commands[0].Output, "hostname R1")
}

func TestRunNoCredentials(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	r := service.NewRunner(testConfig(), newFleet(dev), nil, nil)
	defer r.Close()

	res := r.Run(context.Background(), target(dev, "cisco_ios"), service.Job{Commands: []string{"show version"}, Mode: driver.Exec})
	require.NotNil(t, res.Error)
	assert.Equal(t, "NO_CREDENTIALS", res.Error.Code)
}

func TestRunManyKeepsOrderAndSummarizes(t *testing.T) {
	var devs []*simulate.Device
	var targets []service.Target
	for i := 0; i < 6; i++ {
		dev := simulate.NewCiscoDevice(fmt.Sprintf("R%d", i))
		devs = append(devs, dev)
		targets = append(targets, target(dev, "cisco_ios"))
	}
	targets = append(targets, service.Target{Name: "ghost", Host: "ghost", Platform: "cisco_ios"})
	cfg := testConfig()
	cfg.Runner.Retries = 0
	r := service.NewRunner(cfg, newFleet(devs...), credential.Static{Creds: credential.Credentials{Username: "admin", Secret: "admin"}}, testRegistry(t))
	defer r.Close()

	rep, err := r.RunMany(context.Background(), targets, service.Job{Commands: []string{"show ip interface brief"}, Mode: driver.Exec, Parse: true})
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	require.Len(t, rep.Devices, 7)
	for i := 0; i < 6; i++ {
		assert.Equal(t, fmt.Sprintf("R%d", i), rep.Devices[i].Device, "结果顺序与输入一致")
	}
	assert.Equal(t, driver.CodeConnectTimeout, rep.Devices[6].Error.Code)

	sum := rep.Summary()
	assert.Equal(t, 7, sum.Total)
	assert.Equal(t, 6, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 12, sum.Records)

	recs := rep.Records("sh ip int br")
	require.Len(t, recs, 12)
	assert.Equal(t, "device", recs[0][0].Name)
	assert.Equal(t, "R0", recs[0][0].Value.String())
	assert.Len(t, rep.Records("show ip interface brief"), 12)
	assert.Len(t, rep.Records(""), 12)
	assert.Empty(t, rep.Records("show version"), "其他命令不应混入")
	assert.Empty(t, rep.Records("sh ip"), "词数不同不算同一命令")
}

func TestRunManyRejectsEmptyJob(t *testing.T) {
	r := newRunner(t, newFleet())
	_, err := r.RunMany(context.Background(), nil, service.Job{Mode: driver.Exec})
	assert.ErrorIs(t, err, driver.ErrEmptyCommand)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "INVALID_COMMAND", service.ErrorCode(fmt.Errorf("x: %w", driver.ErrEmptyCommand)))
	assert.Equal(t, "CANCELLED", service.ErrorCode(context.Canceled))
	assert.Equal(t, dispatch.CodePrecondition, service.ErrorCode(&dispatch.PreconditionError{}))
	assert.Equal(t, "SESSION_UNUSABLE", service.ErrorCode(driver.ErrSessionClosed))
	assert.Equal(t, "NOT_SAVED", service.ErrorCode(fmt.Errorf("x: %w", service.ErrNotSaved)))
	assert.Equal(t, "BACKUP_UNSUPPORTED", service.ErrorCode(service.ErrBackupUnsupported))
	assert.Equal(t, "INTERNAL", service.ErrorCode(fmt.Errorf("boom")))
}
