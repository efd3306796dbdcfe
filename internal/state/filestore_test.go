package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VulnDigest/internal/domain"
)

func TestMissingFileIsValidFirstRunState(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "processed.json"), 5)
	require.NoError(t, store.Load(context.Background()))

	assert.False(t, store.HasSeen("CVE-2026-1"))
	assert.Equal(t, 5, store.RemainingQuota("2026-08-31"))
}

func TestCorruptFileFailsFast(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "processed.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewFileStore(path, 5)
	err := store.Load(context.Background())
	require.Error(t, err)

	var loadErr *domain.StateLoadError
	assert.True(t, errors.As(err, &loadErr), "corrupt state must surface as a load error, not as empty state")
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed.json")

	store := NewFileStore(path, 5)
	require.NoError(t, store.Load(ctx))
	store.MarkSeen("CVE-2026-1", domain.ProcessedEntry{FirstSeen: "2026-08-31", Published: true, PostID: 42})
	store.IncrementQuota("2026-08-31")
	store.IncrementQuota("2026-08-31")
	require.NoError(t, store.Persist(ctx))

	reloaded := NewFileStore(path, 5)
	require.NoError(t, reloaded.Load(ctx))
	assert.True(t, reloaded.HasSeen("CVE-2026-1"))
	assert.Equal(t, 3, reloaded.RemainingQuota("2026-08-31"))

	// a load/persist cycle with no changes must not lose anything
	require.NoError(t, reloaded.Persist(ctx))
	again := NewFileStore(path, 5)
	require.NoError(t, again.Load(ctx))
	assert.True(t, again.HasSeen("CVE-2026-1"))
	assert.Equal(t, 3, again.RemainingQuota("2026-08-31"))
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed.json")

	store := NewFileStore(path, 5)
	require.NoError(t, store.Load(ctx))
	store.MarkSeen("CVE-2026-2", domain.ProcessedEntry{FirstSeen: "2026-08-30", Published: true, PostID: 7})
	store.MarkSeen("CVE-2026-2", domain.ProcessedEntry{FirstSeen: "2026-08-30", Published: true, PostID: 7})
	require.NoError(t, store.Persist(ctx))

	reloaded := NewFileStore(path, 5)
	require.NoError(t, reloaded.Load(ctx))
	assert.True(t, reloaded.HasSeen("CVE-2026-2"))
}

func TestQuotaFloorsAtZero(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "processed.json"), 2)
	require.NoError(t, store.Load(context.Background()))

	store.IncrementQuota("2026-08-31")
	store.IncrementQuota("2026-08-31")
	store.IncrementQuota("2026-08-31")
	assert.Equal(t, 0, store.RemainingQuota("2026-08-31"))

	// counter resets implicitly when the date key changes
	assert.Equal(t, 2, store.RemainingQuota("2026-09-01"))
}

func TestPersistWithoutLoadFails(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "processed.json"), 5)
	err := store.Persist(context.Background())

	var persistErr *domain.StatePersistError
	assert.True(t, errors.As(err, &persistErr))
}

func TestDateKeyUsesPublicationTimezone(t *testing.T) {
	t.Parallel()

	jst, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 16:30 UTC is already the next day in JST
	moment := time.Date(2026, 8, 31, 16, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-09-01", DateKey(moment, jst))
	assert.Equal(t, "2026-08-31", DateKey(moment, time.UTC))
}
