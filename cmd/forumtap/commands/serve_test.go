package commands

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/forumtap/internal/config"
	"github.com/dyluth/forumtap/internal/sink"
	"github.com/dyluth/forumtap/pkg/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sinkNames(sinks []sink.Sink) []string {
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	return names
}

func testConfig(t *testing.T, mr *miniredis.Miniredis, sinks *config.SinksConfig) *config.Config {
	cfg := &config.Config{
		Version: "1.0",
		Redis:   &config.RedisConfig{URL: "redis://" + mr.Addr()},
		Sinks:   sinks,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpenSinks(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client, err := mirror.NewClientFromURL("redis://"+mr.Addr(), "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	t.Run("redis only by default", func(t *testing.T) {
		cfg := testConfig(t, mr, nil)
		sinks, err := openSinks(ctx, cfg, client)
		require.NoError(t, err)
		assert.Equal(t, []string{"redis"}, sinkNames(sinks))
	})

	t.Run("sqlite alongside redis", func(t *testing.T) {
		cfg := testConfig(t, mr, &config.SinksConfig{
			SQLite: &config.SQLiteSinkConfig{Path: filepath.Join(t.TempDir(), "f.db")},
		})
		sinks, err := openSinks(ctx, cfg, client)
		require.NoError(t, err)
		t.Cleanup(func() { sink.NewFanout(sinks...).Close() })
		assert.Equal(t, []string{"redis", "sqlite"}, sinkNames(sinks))
	})

	t.Run("queue hands the database to the worker", func(t *testing.T) {
		disabled := false
		cfg := testConfig(t, mr, &config.SinksConfig{
			Redis:  &config.RedisSinkConfig{Enabled: &disabled},
			SQLite: &config.SQLiteSinkConfig{Path: filepath.Join(t.TempDir(), "f.db")},
			Queue:  &config.QueueSinkConfig{},
		})
		sinks, err := openSinks(ctx, cfg, client)
		require.NoError(t, err)
		t.Cleanup(func() { sink.NewFanout(sinks...).Close() })
		assert.Equal(t, []string{"queue"}, sinkNames(sinks))
	})

	t.Run("failure is reported", func(t *testing.T) {
		cfg := testConfig(t, mr, &config.SinksConfig{
			Postgres: &config.PostgresSinkConfig{DSN: "not a dsn ::"},
		})
		_, err := openSinks(ctx, cfg, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open postgres sink")
	})
}

func TestWorkerTargetName(t *testing.T) {
	mr := miniredis.RunT(t)

	assert.Equal(t, "", workerTargetName(testConfig(t, mr, nil)))
	assert.Equal(t, "sqlite", workerTargetName(testConfig(t, mr, &config.SinksConfig{
		SQLite: &config.SQLiteSinkConfig{Path: "x.db"},
	})))
	assert.Equal(t, "postgres", workerTargetName(testConfig(t, mr, &config.SinksConfig{
		SQLite:   &config.SQLiteSinkConfig{Path: "x.db"},
		Postgres: &config.PostgresSinkConfig{DSN: "postgres://u@h/db"},
	})))
}
