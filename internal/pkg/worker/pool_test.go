package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procurement.io/orchestrator/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestPools_Submit(t *testing.T) {
	tests := []struct {
		name     string
		poolName string
		wantErr  error
	}{
		{"relay", PoolRelay, nil},
		{"notify", PoolNotify, nil},
		{"unknown", "general", ErrUnknownPool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pools, err := NewPools(context.Background(), PoolConfig{RelayPoolSize: 2, NotifyPoolSize: 2})
			require.NoError(t, err)
			defer pools.Shutdown()

			done := make(chan context.Context, 1)
			err = pools.Submit(tt.poolName, func(ctx context.Context) { done <- ctx })
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			select {
			case ctx := <-done:
				assert.NoError(t, ctx.Err(), "task runs on the live service context")
			case <-time.After(time.Second):
				t.Fatal("task was not executed")
			}
		})
	}
}

func TestPools_StatsCountsRunningTask(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{RelayPoolSize: 1, NotifyPoolSize: 1})
	require.NoError(t, err)
	defer pools.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, pools.Submit(PoolRelay, func(context.Context) {
		defer wg.Done()
		close(started)
		<-release
	}))
	<-started

	relay := pools.Stats()[0]
	assert.Equal(t, 1, relay.Running)
	assert.Equal(t, 0, relay.Free)

	close(release)
	wg.Wait()
}

func TestPools_SubmitAfterShutdown(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	pools.Shutdown()

	err = pools.Submit(PoolRelay, func(context.Context) {
		t.Error("task must not run after shutdown")
	})
	assert.True(t, errors.Is(err, ErrPoolClosed), "err = %v", err)
}

func TestPools_Stats(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{RelayPoolSize: 3, NotifyPoolSize: 5})
	require.NoError(t, err)
	defer pools.Shutdown()

	stats := pools.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, Stats{Name: PoolRelay, Running: 0, Free: 3, Cap: 3}, stats[0])
	assert.Equal(t, PoolNotify, stats[1].Name)
	assert.Equal(t, 5, stats[1].Cap)
}
