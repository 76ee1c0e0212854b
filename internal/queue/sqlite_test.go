package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"stampsync/internal/domain"
)

func openTestDB(t *testing.T, path string) Backend {
	t.Helper()
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, EnsureSchema(db))
	return NewSQLiteBackend(db)
}

func TestSQLiteBackend_MissingCollection(t *testing.T) {
	b := openTestDB(t, filepath.Join(t.TempDir(), "q.db"))

	data, err := b.Load(context.Background(), "stamps_queue")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSQLiteBackend_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	b := openTestDB(t, filepath.Join(t.TempDir(), "q.db"))

	require.NoError(t, b.Save(ctx, "stamps_queue", []byte(`[1]`)))
	require.NoError(t, b.Save(ctx, "stamps_queue", []byte(`[2]`)))

	data, err := b.Load(ctx, "stamps_queue")
	require.NoError(t, err)
	assert.Equal(t, `[2]`, string(data))
}

func TestSQLiteBackend_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "q.db")

	first := NewStore(openTestDB(t, path))
	_, err := first.Enqueue(ctx, domain.QueueRedemptions, domain.Operation{ID: "r1", Type: domain.OpRedemption, Payload: []byte(`{"code":"ABC"}`)})
	require.NoError(t, err)

	second := NewStore(openTestDB(t, path))
	got, ok, err := second.Get(ctx, domain.QueueRedemptions, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.OpRedemption, got.Type)
	assert.JSONEq(t, `{"code":"ABC"}`, string(got.Payload))
}
