package zipkinz

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// idLength is the width of a rendered 64-bit id.
const idLength = 16

// readRandom fills ids; swapped out in tests.
var readRandom = rand.Read

// generateID returns 64 random bits rendered as 16 lowercase hex characters.
// The all-zero id is invalid on the wire and is never returned.
func generateID() string {
	var b [8]byte
	for {
		if _, err := readRandom(b[:]); err != nil {
			// Fallback to a time-based id if crypto/rand fails.
			binary.BigEndian.PutUint64(b[:], uint64(time.Now().UnixNano())|1)
		}
		if binary.BigEndian.Uint64(b[:]) != 0 {
			return hex.EncodeToString(b[:])
		}
	}
}

// IDPool manages a pool of pre-generated IDs to amortize crypto/rand overhead.
type IDPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a new ID pool with the specified capacity.
// A nil factory uses the default 64-bit generator.
func NewIDPool(capacity int, factory func() string) *IDPool {
	if factory == nil {
		factory = generateID
	}
	if capacity < 1 {
		capacity = 1
	}
	pool := &IDPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get retrieves an ID from the pool or generates one if pool is empty.
// Safe to call after Close.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		// Pool empty, generate directly (fallback for burst load).
		return p.factory()
	}
}

// refill keeps the pool topped up until Close.
func (p *IDPool) refill() {
	for {
		id := p.factory()
		select {
		case p.ids <- id:
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the background refill goroutine.
func (p *IDPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}
