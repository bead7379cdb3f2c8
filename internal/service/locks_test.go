package service

import (
	"context"
	"testing"
	"time"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/stretchr/testify/require"
)

func TestRoomLocksSerializeOneRoom(t *testing.T) {
	locks := newRoomLocks()
	unlock, err := locks.lock(context.Background(), "r1")
	require.NoError(t, err)

	other, err := locks.lock(context.Background(), "r2")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.lock(ctx, "r1")
	require.ErrorIs(t, err, chaterr.ErrUnavailable)

	acquired := make(chan struct{})
	go func() {
		next, err := locks.lock(context.Background(), "r1")
		if err == nil {
			next()
		}
		close(acquired)
	}()

	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	require.Zero(t, locks.size())
}
