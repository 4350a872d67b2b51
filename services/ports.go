package services

import (
	"errors"
	"fmt"
	"sync"
)

var ErrPortsExhausted = errors.New("no ports available")

// PortAllocator owns the pool of host ports workspaces can bind.
// Reservation state lives in memory for the life of the process and is
// reseeded from persisted records on startup (see Lifecycle.Recover).
// It is safe for concurrent use; the critical section does no I/O.
type PortAllocator struct {
	mu       sync.Mutex
	start    int
	end      int
	reserved map[int]bool
}

// NewPortAllocator builds an allocator over the inclusive range
// [start, end].
func NewPortAllocator(start, end int) *PortAllocator {
	return &PortAllocator{
		start:    start,
		end:      end,
		reserved: make(map[int]bool),
	}
}

// Allocate reserves and returns an unused port, or ErrPortsExhausted
// when the whole range is claimed.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.start; port <= a.end; port++ {
		if !a.reserved[port] {
			a.reserved[port] = true
			return port, nil
		}
	}
	return 0, ErrPortsExhausted
}

// Release returns a port to the pool. Releasing an unreserved port is
// a no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Reserve marks a specific port as taken. Used to seed the pool from
// persisted workspace records on process restart.
func (a *PortAllocator) Reserve(port int) error {
	if port < a.start || port > a.end {
		return fmt.Errorf("port %d outside pool range %d-%d", port, a.start, a.end)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserved[port] = true
	return nil
}

// Available reports how many ports remain unreserved.
func (a *PortAllocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.end - a.start + 1 - len(a.reserved)
}
