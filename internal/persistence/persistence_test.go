package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/guest-messaging/internal/config"
)

func TestNewPostgres_WithoutDSN(t *testing.T) {
	pg, err := NewPostgres(context.Background(), config.PostgresConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, pg.PoolHandle())
	assert.Error(t, pg.Ping(context.Background()))
	assert.NotPanics(t, pg.Close)
}

func TestNewRedis_WithoutAddr(t *testing.T) {
	r := NewRedis(context.Background(), config.RedisConfig{}, zap.NewNop())
	assert.False(t, r.Enabled())
	assert.Error(t, r.Ping(context.Background()))
	assert.NotPanics(t, r.Close)

	var missing *Redis
	assert.False(t, missing.Enabled())
}

func TestRunMigrations_SkipsWithoutPool(t *testing.T) {
	assert.NoError(t, RunMigrations(context.Background(), nil, "does-not-exist", zap.NewNop()))
}

func TestNewRedis_Connects(t *testing.T) {
	server := miniredis.RunT(t)
	r := NewRedis(context.Background(), config.RedisConfig{Addr: server.Addr()}, zap.NewNop())
	t.Cleanup(r.Close)

	require.True(t, r.Enabled())
	assert.NoError(t, r.Ping(context.Background()))

	server.Close()
	assert.Error(t, r.Ping(context.Background()), "readiness follows the server")
}

func TestNewRedis_UnreachableIsNotFatal(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	r := NewRedis(context.Background(), config.RedisConfig{Addr: addr}, zap.NewNop())
	t.Cleanup(r.Close)
	assert.True(t, r.Enabled())
}

func TestMigrationFiles_SortedSQLOnly(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "README.md", "0001_a.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0000_dir.sql"), 0o700))

	files, err := migrationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, files)

	_, err = migrationFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestShippedMigrationsAreListed(t *testing.T) {
	files, err := migrationFiles("../../migrations")
	require.NoError(t, err)
	assert.Contains(t, files, "0001_init.sql")
}
