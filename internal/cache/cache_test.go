package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"access-service/internal/engine"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestFetchCachesLoaderResult(t *testing.T) {
	c := New(nil, time.Minute, testLogger())
	tenantID, userID := uuid.New(), uuid.New()
	grants := []engine.Grant{{Resource: "task", Action: "manage"}}

	calls := 0
	load := func(ctx context.Context) ([]engine.Grant, time.Duration, error) {
		calls++
		return grants, 0, nil
	}

	got, err := c.Fetch(context.Background(), tenantID, userID, "legacy:admin", load)
	require.NoError(t, err)
	assert.Equal(t, grants, got)
	assert.Equal(t, 1, calls)

	// Second fetch is served from cache: identical answer, no loader call
	got, err = c.Fetch(context.Background(), tenantID, userID, "legacy:admin", load)
	require.NoError(t, err)
	assert.Equal(t, grants, got)
	assert.Equal(t, 1, calls, "cached fetch must not call the loader again")
}

func TestFetchSeparatesFingerprints(t *testing.T) {
	c := New(nil, time.Minute, testLogger())
	tenantID, userID := uuid.New(), uuid.New()

	adminGrants := []engine.Grant{{Resource: "task", Action: "manage"}}
	viewerGrants := []engine.Grant{{Resource: "task", Action: "read"}}

	got, err := c.Fetch(context.Background(), tenantID, userID, "legacy:admin", staticLoader(adminGrants))
	require.NoError(t, err)
	assert.Equal(t, adminGrants, got)

	got, err = c.Fetch(context.Background(), tenantID, userID, "legacy:viewer", staticLoader(viewerGrants))
	require.NoError(t, err)
	assert.Equal(t, viewerGrants, got, "role change must change the cache key")
}

func TestFetchLoaderErrorPropagates(t *testing.T) {
	c := New(nil, time.Minute, testLogger())
	boom := errors.New("store down")

	_, err := c.Fetch(context.Background(), uuid.New(), uuid.New(), "legacy:admin", func(ctx context.Context) ([]engine.Grant, time.Duration, error) {
		return nil, 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestInvalidateDropsAllFingerprints(t *testing.T) {
	c := New(nil, time.Minute, testLogger())
	tenantID, userID := uuid.New(), uuid.New()
	otherUser := uuid.New()

	_, err := c.Fetch(context.Background(), tenantID, userID, "legacy:admin", staticLoader([]engine.Grant{{Resource: "task", Action: "read"}}))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), tenantID, userID, "role:abc", staticLoader([]engine.Grant{{Resource: "task", Action: "read"}}))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), tenantID, otherUser, "legacy:admin", staticLoader([]engine.Grant{{Resource: "task", Action: "read"}}))
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(context.Background(), tenantID, userID))

	calls := 0
	counting := func(ctx context.Context) ([]engine.Grant, time.Duration, error) {
		calls++
		return nil, 0, nil
	}
	_, err = c.Fetch(context.Background(), tenantID, userID, "legacy:admin", counting)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), tenantID, userID, "role:abc", counting)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "invalidation must evict every fingerprint for the principal")

	// The other principal's entry survives
	_, err = c.Fetch(context.Background(), tenantID, otherUser, "legacy:admin", counting)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestTTLHintCapsEntryLifetime(t *testing.T) {
	c := New(nil, time.Minute, testLogger())
	tenantID, userID := uuid.New(), uuid.New()

	calls := 0
	load := func(ctx context.Context) ([]engine.Grant, time.Duration, error) {
		calls++
		return []engine.Grant{{Resource: "task", Action: "read"}}, 10 * time.Millisecond, nil
	}

	_, err := c.Fetch(context.Background(), tenantID, userID, "role:x", load)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = c.Fetch(context.Background(), tenantID, userID, "role:x", load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "entry must expire at the loader's TTL hint")
}

func staticLoader(grants []engine.Grant) engine.GrantLoader {
	return func(ctx context.Context) ([]engine.Grant, time.Duration, error) {
		return grants, 0, nil
	}
}
