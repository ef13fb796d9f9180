package gate

import (
	"context"
	"sync"
	"time"
)

// ExpiryScheduler runs the background sweeps: the hourly entitlement sweep,
// the daily counter rotation, and the per-delivery auto-delete timers.
// Deletion timers are tracked in a registry keyed by batch ID so they can be
// cancelled on shutdown or overridden, instead of running detached.
type ExpiryScheduler struct {
	entitlements *EntitlementService
	store        Store
	transport    Transport
	clock        Clock
	idgen        IDGenerator
	logger       Logger

	sweepInterval time.Duration
	resetHour     int // local hour for the daily counter rotation

	mu        sync.Mutex
	deletions map[string]*time.Timer
	closed    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewExpiryScheduler creates a scheduler. Sweeps run hourly and the counter
// rotation fires daily at resetHour local time.
func NewExpiryScheduler(entitlements *EntitlementService, store Store, transport Transport, clock Clock, idgen IDGenerator, logger Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		entitlements:  entitlements,
		store:         store,
		transport:     transport,
		clock:         clock,
		idgen:         idgen,
		logger:        logger,
		sweepInterval: time.Hour,
		deletions:     make(map[string]*time.Timer),
		stop:          make(chan struct{}),
	}
}

// Start launches the sweep and rotation loops. Call Stop to shut down.
func (s *ExpiryScheduler) Start() {
	s.wg.Add(2)
	go s.sweepLoop()
	go s.rotateLoop()
}

// Stop halts the loops and cancels every pending deletion timer. In-flight
// deletions are abandoned; they are best-effort hygiene, not correctness.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, timer := range s.deletions {
		timer.Stop()
		delete(s.deletions, id)
	}
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
}

func (s *ExpiryScheduler) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.entitlements.Sweep(context.Background()); err != nil {
				s.logger.Error("entitlement sweep failed", "err", err)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *ExpiryScheduler) rotateLoop() {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(s.untilNextRotation())
		select {
		case <-timer.C:
			s.rotateCounters()
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

// untilNextRotation returns the wait until the next local resetHour.
func (s *ExpiryScheduler) untilNextRotation() time.Duration {
	now := s.clock.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.resetHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// rotateCounters drops counter rows from before today, independent of the
// entitlement sweep.
func (s *ExpiryScheduler) rotateCounters() {
	today := CounterDay(s.clock.Now())
	if err := s.store.DeleteCountersBefore(today); err != nil {
		s.logger.Error("counter rotation failed", "err", err)
		return
	}
	s.logger.Debug("daily counters rotated", "day", today)
}

// ScheduleDeletion registers a one-shot timer that deletes the batch's
// messages from the chat after the given duration. Returns the batch ID,
// which can cancel the deletion while it is still pending. After shutdown
// the batch is dropped without a timer.
func (s *ExpiryScheduler) ScheduleDeletion(chatID int64, messageIDs []int, after time.Duration) string {
	batchID := s.idgen.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return batchID
	}
	s.deletions[batchID] = time.AfterFunc(after, func() {
		s.fireDeletion(batchID, chatID, messageIDs)
	})

	s.logger.Debug("deletion scheduled", "batch", batchID, "chat", chatID, "messages", len(messageIDs), "after", after)
	return batchID
}

// CancelDeletion cancels a pending deletion. Reports whether the batch was
// still pending.
func (s *ExpiryScheduler) CancelDeletion(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.deletions[batchID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.deletions, batchID)
	return true
}

// PendingDeletions returns the number of registered deletion timers.
func (s *ExpiryScheduler) PendingDeletions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deletions)
}

func (s *ExpiryScheduler) fireDeletion(batchID string, chatID int64, messageIDs []int) {
	s.mu.Lock()
	delete(s.deletions, batchID)
	s.mu.Unlock()

	err := s.transport.DeleteMessages(context.Background(), chatID, messageIDs)
	if err != nil {
		if wait, ok := RetryAfter(err); ok {
			time.Sleep(wait)
			err = s.transport.DeleteMessages(context.Background(), chatID, messageIDs)
		}
	}
	if err != nil {
		// Non-fatal: the messages stay behind but delivery already happened.
		s.logger.Warn("batch auto-delete failed", "batch", batchID, "chat", chatID, "err", err)
		return
	}
	s.logger.Debug("batch auto-deleted", "batch", batchID, "chat", chatID, "messages", len(messageIDs))
}
