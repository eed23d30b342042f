package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
	"github.com/CodexShaper-Devs/license-sub000/internal/keys"
	"github.com/CodexShaper-Devs/license-sub000/internal/testutil"
)

func TestHealthService_LivenessCheck(t *testing.T) {
	clk := clock.Fake(testutil.Epoch)
	hs := NewHealthService("1.2.3", clk, testutil.Logger(), Check{
		Name:  "never_called",
		Probe: func(context.Context) error { t.Fatal("liveness must not probe dependencies"); return nil },
	})
	clk.Advance(90 * time.Second)

	status := hs.LivenessCheck(context.Background())

	assert.Equal(t, StatusAlive, status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, float64(90), status.Runtime["uptime_seconds"])
	assert.Empty(t, status.Services)
}

func TestHealthService_ReadinessCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := testutil.NewDB(t)
	storage := keys.NewMemoryStorage()

	t.Run("all dependencies up", func(t *testing.T) {
		hs := NewHealthService("1.0.0", clock.Fake(testutil.Epoch), testutil.Logger(),
			DatabaseCheck(db),
			RedisCheck(client),
			KeyStorageCheck(storage),
		)

		status := hs.ReadinessCheck(context.Background())

		assert.Equal(t, StatusReady, status.Status)
		require.Len(t, status.Services, 3)
		for name, svc := range status.Services {
			assert.Equal(t, StatusReady, svc.Status, name)
		}
	})

	t.Run("one failing dependency makes the service not ready", func(t *testing.T) {
		hs := NewHealthService("1.0.0", clock.Fake(testutil.Epoch), testutil.Logger(),
			DatabaseCheck(db),
			Check{Name: "broken", Probe: func(context.Context) error { return errors.New("connection refused") }},
		)

		status := hs.ReadinessCheck(context.Background())

		assert.Equal(t, StatusNotReady, status.Status)
		assert.Equal(t, StatusReady, status.Services["database"].Status)
		assert.Equal(t, StatusNotReady, status.Services["broken"].Status)
		assert.Equal(t, "connection refused", status.Services["broken"].Message)
	})

	t.Run("redis down", func(t *testing.T) {
		c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
		t.Cleanup(func() { c.Close() })

		hs := NewHealthService("1.0.0", clock.Fake(testutil.Epoch), testutil.Logger(), RedisCheck(c))
		status := hs.ReadinessCheck(context.Background())

		assert.Equal(t, StatusNotReady, status.Status)
		assert.NotEmpty(t, status.Services["redis"].Message)
	})

	t.Run("slow probe times out", func(t *testing.T) {
		hs := NewHealthService("1.0.0", clock.Fake(testutil.Epoch), testutil.Logger(), Check{
			Name: "slow",
			Probe: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		})
		hs.timeout = 20 * time.Millisecond

		status := hs.ReadinessCheck(context.Background())

		assert.Equal(t, StatusNotReady, status.Status)
		assert.Equal(t, "timed out", status.Services["slow"].Message)
	})
}
