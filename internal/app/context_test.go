package app_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goose/internal/app"
	"goose/internal/db"
	"goose/internal/migrate"
)

func TestOpenWithDefaults(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var logs bytes.Buffer
	a, err := app.Open(ctx, app.Options{Workspace: dir, LogOutput: &logs})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(ctx) })

	assert.FileExists(t, db.Path(dir))
	latest, err := migrate.Latest()
	require.NoError(t, err)
	v, err := migrate.Version(ctx, a.DB)
	require.NoError(t, err)
	assert.Equal(t, latest, v)

	c, err := a.Engine.CreateCompany(ctx, "Acme", "owner")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Contains(t, logs.String(), "company created")
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	yml := "server:\n  base_path: /api\nauth:\n  jwt_secret: s3cret\n  token_ttl: 1h\nworkflow:\n  waiting_state: Queued\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "goose.yml"), []byte(yml), 0o644))

	a, err := app.Open(ctx, app.Options{Workspace: dir, LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Equal(t, "Queued", a.Engine.Workflow.WaitingState)
	sc := a.ServerConfig()
	assert.Equal(t, "/api", sc.BasePath)
	assert.Equal(t, "s3cret", sc.Auth.JWTSecret)
	assert.Equal(t, time.Hour, sc.Auth.TokenTTL)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "goose.yml"), []byte("log:\n  level: loud\n"), 0o644))
	_, err := app.Open(context.Background(), app.Options{Workspace: dir})
	assert.Error(t, err)
}
