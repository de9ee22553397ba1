package driver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sshcollectorpro/netauto/internal/credential"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/simulate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReusesReleasedSession(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	dialer := &simulate.Dialer{Device: dev}
	pool := driver.NewPool(dialer, driver.PoolConfig{MaxActive: 2})
	defer pool.Close()
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, testCreds(dev), testOptions())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"active": 1, "idle": 0, "opening": 0}, pool.Stats())
	pool.Release(s1)
	assert.Equal(t, map[string]int{"active": 0, "idle": 1, "opening": 0}, pool.Stats())

	s2, err := pool.Acquire(ctx, testCreds(dev), testOptions())
	require.NoError(t, err)
	assert.Same(t, s1, s2, "同一设备复用空闲会话")
	assert.Equal(t, 1, dialer.Dials())
	pool.Release(s2)
}

func TestPoolDropsUnusableSession(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	dev.Hang = []string{"debug all"}
	dialer := &simulate.Dialer{Device: dev}
	pool := driver.NewPool(dialer, driver.PoolConfig{})
	defer pool.Close()
	ctx := context.Background()

	s, err := pool.Acquire(ctx, testCreds(dev), testOptions())
	require.NoError(t, err)
	_, err = s.Execute(ctx, "debug all", driver.Exec)
	require.Error(t, err)
	pool.Release(s)
	assert.Equal(t, 0, pool.Stats()["idle"], "不可用会话不回池")

	s2, err := pool.Acquire(ctx, testCreds(dev), testOptions())
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
	assert.Equal(t, 2, dialer.Dials())
	pool.Release(s2)
}

func TestPoolMaxActive(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	pool := driver.NewPool(&simulate.Dialer{Device: dev}, driver.PoolConfig{MaxActive: 1})
	defer pool.Close()
	ctx := context.Background()

	s, err := pool.Acquire(ctx, testCreds(dev), testOptions())
	require.NoError(t, err)
	_, err = pool.Acquire(ctx, testCreds(dev), testOptions())
	assert.Error(t, err, "超过上限应返回错误")
	pool.Release(s)
}

// 建连期间占用的名额也计入上限
func TestPoolMaxActiveCountsPendingOpens(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	sim := &simulate.Dialer{Device: dev}
	entered := make(chan struct{}, 4)
	gate := make(chan struct{})
	dialer := driver.DialerFunc(func(ctx context.Context, creds credential.Credentials) (driver.Channel, error) {
		entered <- struct{}{}
		<-gate
		return sim.Dial(ctx, creds)
	})
	pool := driver.NewPool(dialer, driver.PoolConfig{MaxActive: 2})
	defer pool.Close()
	ctx := context.Background()

	type result struct {
		s   *driver.Session
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := pool.Acquire(ctx, testCreds(dev), testOptions())
			results <- result{s, err}
		}()
	}
	<-entered
	<-entered
	assert.Equal(t, 2, pool.Stats()["opening"])

	third := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx, testCreds(dev), testOptions())
		third <- err
	}()
	select {
	case err := <-third:
		assert.ErrorContains(t, err, "session pool is full", "建连中的名额已占满")
	case <-time.After(time.Second):
		t.Fatal("超出上限的请求应立即返回而不是建连")
	}

	close(gate)
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		defer pool.Release(r.s)
	}
	assert.Equal(t, 2, sim.Dials())
	assert.Equal(t, map[string]int{"active": 2, "idle": 0, "opening": 0}, pool.Stats())
}

func TestPoolFailedOpenReleasesSlot(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	sim := &simulate.Dialer{Device: dev}
	fail := true
	dialer := driver.DialerFunc(func(ctx context.Context, creds credential.Credentials) (driver.Channel, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return sim.Dial(ctx, creds)
	})
	pool := driver.NewPool(dialer, driver.PoolConfig{MaxActive: 1})
	defer pool.Close()
	ctx := context.Background()

	_, err := pool.Acquire(ctx, testCreds(dev), testOptions())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "pool is full")
	assert.Equal(t, 0, pool.Stats()["opening"], "建连失败后归还名额")

	fail = false
	s, err := pool.Acquire(ctx, testCreds(dev), testOptions())
	require.NoError(t, err)
	pool.Release(s)
}

func TestPoolClose(t *testing.T) {
	dev := simulate.NewCiscoDevice("R1")
	pool := driver.NewPool(&simulate.Dialer{Device: dev}, driver.PoolConfig{IdleTimeout: time.Minute})
	ctx := context.Background()

	s, err := pool.Acquire(ctx, testCreds(dev), testOptions())
	require.NoError(t, err)
	pool.Release(s)
	require.NoError(t, pool.Close())
	assert.False(t, s.Usable(), "关闭池时关闭空闲会话")

	_, err = pool.Acquire(ctx, testCreds(dev), testOptions())
	assert.ErrorIs(t, err, driver.ErrPoolClosed)
}
