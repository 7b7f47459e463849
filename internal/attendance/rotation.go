package attendance

import (
	"context"
	"log"
	"sync"
	"time"

	"presence/internal/audit"
)

const rotateTimeout = 5 * time.Second

// Rotator advances session credentials on fixed cadences while the
// session is active. Each tracked lecture runs its own goroutine with two
// independent tickers; the code and QR token never rotate each other.
// Every write is a compare-and-swap against active = TRUE in the store,
// so a tick racing an end() is a no-op and the goroutine then stops.
type Rotator struct {
	store     SessionStore
	sink      audit.Sink
	codeEvery time.Duration
	qrEvery   time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRotator creates a scheduler with per-deployment cadences.
func NewRotator(store SessionStore, sink audit.Sink, codeEvery, qrEvery time.Duration) *Rotator {
	return &Rotator{
		store:     store,
		sink:      sink,
		codeEvery: codeEvery,
		qrEvery:   qrEvery,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Track starts rotating credentials for a lecture's session. Tracking an
// already-tracked lecture restarts its loop.
func (r *Rotator) Track(lectureID string) {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	if prev, ok := r.cancels[lectureID]; ok {
		prev()
	}
	r.cancels[lectureID] = cancel
	r.mu.Unlock()
	go r.run(ctx, lectureID)
}

// Stop cancels the rotation loop for a lecture, if any.
func (r *Rotator) Stop(lectureID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[lectureID]; ok {
		cancel()
		delete(r.cancels, lectureID)
	}
}

// StopAll cancels every rotation loop; used on shutdown.
func (r *Rotator) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.cancels {
		cancel()
		delete(r.cancels, id)
	}
}

func (r *Rotator) run(ctx context.Context, lectureID string) {
	codeTick := time.NewTicker(r.codeEvery)
	qrTick := time.NewTicker(r.qrEvery)
	defer codeTick.Stop()
	defer qrTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-codeTick.C:
			if r.tick(lectureID, false) {
				return
			}
		case <-qrTick.C:
			if r.tick(lectureID, true) {
				return
			}
		}
	}
}

// tick rotates one credential and reports whether the loop should stop.
func (r *Rotator) tick(lectureID string, qr bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), rotateTimeout)
	defer cancel()

	var err error
	if qr {
		_, err = rotateQR(ctx, r.store, r.sink, "scheduler", lectureID, time.Now().UTC())
	} else {
		_, err = rotateCode(ctx, r.store, r.sink, "scheduler", lectureID, time.Now().UTC())
	}
	if err == nil {
		return false
	}
	if IsKind(err, KindNoActiveSession) {
		// Session ended between ticks; discard and stop.
		r.Stop(lectureID)
		return true
	}
	log.Printf("rotation for lecture %s failed: %v", lectureID, err)
	return false
}
