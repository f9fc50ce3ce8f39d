//go:build integration

package lock

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	id "packreg/pkg/domain"
	"packreg/pkg/platform/sentinel"
	"packreg/pkg/testutil/containers"
)

func TestRedisLock(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)
	t.Cleanup(func() { _ = rc.FlushAll(ctx) })

	lock := NewRedis(rc.Client)
	connID := id.ConnectionID(uuid.New())

	release, err := lock.Acquire(ctx, connID)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, connID)
	require.ErrorIs(t, err, sentinel.ErrLocked)

	// A second instance over the same backend sees the same lock.
	other := NewRedis(rc.Client)
	_, err = other.Acquire(ctx, connID)
	require.ErrorIs(t, err, sentinel.ErrLocked)

	release()

	release, err = other.Acquire(ctx, connID)
	require.NoError(t, err)
	release()
}
