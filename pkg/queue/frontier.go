package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// AdmitFunc is the visit-specific admission predicate applied to every newly
// discovered address before the discovery cap is checked.
type AdmitFunc func(address string) bool

// Frontier owns the shared crawl state: the FIFO of admitted addresses, the set
// of every address ever offered (discovered), the set of admitted addresses
// (seen), the discovery counter and the in-flight count.
// All of it is guarded by a single mutex.
type Frontier struct {
	mu       sync.Mutex
	notEmpty *sync.Cond // Signalled when an address is pushed or the frontier closes
	idle     *sync.Cond // Broadcast when the frontier may have become idle

	items      []string
	discovered map[string]struct{}
	seen       []string // Admission order; len(seen) is the discovery counter
	inFlight   int
	closed     bool
	capLogged  bool

	limit     int // <= 0 means unlimited
	predicate AdmitFunc
	log       *logrus.Entry
}

// NewFrontier creates an empty frontier admitting at most limit addresses.
// A nil predicate admits everything.
func NewFrontier(limit int, predicate AdmitFunc, log *logrus.Entry) *Frontier {
	f := &Frontier{
		discovered: make(map[string]struct{}),
		limit:      limit,
		predicate:  predicate,
		log:        log,
	}
	f.notEmpty = sync.NewCond(&f.mu)
	f.idle = sync.NewCond(&f.mu)
	return f
}

// Admit offers addresses to the frontier and returns the ones enqueued, in input order.
// Addresses already discovered are skipped. Each new address is marked discovered
// before the predicate and counter checks, so concurrent calls cannot double-admit it.
func (f *Frontier) Admit(addresses []string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		f.log.WithField("count", len(addresses)).Debug("Frontier closed, ignoring admission")
		return nil
	}

	var admitted []string
	for _, addr := range addresses {
		if _, ok := f.discovered[addr]; ok {
			continue
		}
		f.discovered[addr] = struct{}{}

		if f.predicate != nil && !f.predicate(addr) {
			continue
		}
		if f.limit > 0 && len(f.seen) >= f.limit {
			if !f.capLogged {
				f.log.WithField("cap", f.limit).Debug("Discovery cap reached, admission is now a no-op")
				f.capLogged = true
			}
			continue
		}

		f.seen = append(f.seen, addr)
		f.items = append(f.items, addr)
		admitted = append(admitted, addr)
		f.notEmpty.Signal()
	}
	return admitted
}

// Pop removes the oldest address, blocking while the frontier is empty.
// It returns false once the frontier is closed or ctx is done; a successful
// pop must be acknowledged with TaskDone.
func (f *Frontier) Pop(ctx context.Context) (string, bool) {
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.notEmpty.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.items) == 0 && !f.closed && ctx.Err() == nil {
		f.notEmpty.Wait()
	}
	if f.closed || ctx.Err() != nil {
		return "", false
	}

	addr := f.items[0]
	f.items[0] = ""
	f.items = f.items[1:]
	f.inFlight++
	return addr, true
}

// TaskDone acknowledges one popped address.
func (f *Frontier) TaskDone() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight == 0 {
		f.log.Error("TaskDone called with nothing in flight")
		return
	}
	f.inFlight--
	if f.inFlight == 0 && len(f.items) == 0 {
		f.idle.Broadcast()
	}
}

// Join blocks until the frontier is empty and nothing is in flight, or ctx is done.
func (f *Frontier) Join(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.idle.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for (len(f.items) > 0 || f.inFlight > 0) && !f.closed && ctx.Err() == nil {
		f.idle.Wait()
	}
	return ctx.Err()
}

// Close stops the frontier. Blocked and future Pop calls return false,
// later admissions are ignored. Safe to call more than once.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.notEmpty.Broadcast()
		f.idle.Broadcast()
	}
}

// Len returns the number of addresses waiting in the frontier.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// InFlight returns the number of popped but unacknowledged addresses.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

// Admitted returns the discovery counter.
func (f *Frontier) Admitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// Seen returns every admitted address in admission order.
func (f *Frontier) Seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

// DiscoveredCount returns the number of distinct addresses ever offered.
func (f *Frontier) DiscoveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.discovered)
}

// Discovered returns every address ever offered, sorted.
func (f *Frontier) Discovered() []string {
	f.mu.Lock()
	out := make([]string, 0, len(f.discovered))
	for addr := range f.discovered {
		out = append(out, addr)
	}
	f.mu.Unlock()
	sort.Strings(out)
	return out
}
