package protocol

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// roomLocks serializes connection lifecycle steps per room. Never hold two
// stripes at once: distinct rooms may share one.
type roomLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *roomLocks) lock(roomID string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
