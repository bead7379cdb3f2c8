package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
)

// roomLocks hands out one writer slot per room. Entries are dropped once no
// caller holds or waits for them.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	slot chan struct{}
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

// lock waits for the room's slot until ctx is done.
func (l *roomLocks) lock(ctx context.Context, roomID string) (func(), error) {
	l.mu.Lock()
	rl, ok := l.locks[roomID]
	if !ok {
		rl = &roomLock{slot: make(chan struct{}, 1)}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	select {
	case rl.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-rl.slot
				l.release(roomID, rl)
			})
		}, nil
	case <-ctx.Done():
		l.release(roomID, rl)
		return nil, fmt.Errorf("%w: waiting for room %s: %w", chaterr.ErrUnavailable, roomID, ctx.Err())
	}
}

func (l *roomLocks) release(roomID string, rl *roomLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.locks, roomID)
	}
}

func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
