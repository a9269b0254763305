package services

import "sync"

// RoomLocks hands out one mutex per room id. Both ingestion paths (socket
// sends and HTTP uploads) go through the same instance, so counter updates
// for a room are linearized no matter which transport a message came from.
// The socket gateway keeps a second instance keyed by user id.
type RoomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func NewRoomLocks() *RoomLocks {
	return &RoomLocks{locks: make(map[string]*roomLock)}
}

// Lock blocks until the room's critical section is free and returns its release func.
// Entries are dropped once no goroutine holds or waits on them.
func (l *RoomLocks) Lock(roomID string) func() {
	l.mu.Lock()
	rl, ok := l.locks[roomID]
	if !ok {
		rl = &roomLock{}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}

// size is the number of rooms with live lock entries
func (l *RoomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
