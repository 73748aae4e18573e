package download

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ytget/media-dispatch/internal/dispatch"
	"github.com/ytget/media-dispatch/internal/model"
)

// Default jitter window inserted before each entry
const (
	DefaultJitterMin = 200 * time.Millisecond
	DefaultJitterMax = 800 * time.Millisecond
)

// ErrDrainInProgress is returned when Drain is called while another drain runs
var ErrDrainInProgress = errors.New("queue drain already in progress")

// Service is the sequential task queue
type Service struct {
	entries    map[string]*model.QueueEntry
	order      []string
	queueMutex sync.RWMutex

	resolver   Resolver
	dispatcher Dispatcher

	draining   bool
	lastReport *model.DrainReport

	jitterWindow func() (time.Duration, time.Duration)
	sleep        func(ctx context.Context, d time.Duration) error

	onUpdate   func([]model.QueueEntry) // callback for UI updates
	onDeselect func(id string)
}

// NewService creates a new task queue
func NewService(resolver Resolver, dispatcher Dispatcher) *Service {
	return &Service{
		entries:    make(map[string]*model.QueueEntry),
		resolver:   resolver,
		dispatcher: dispatcher,
		jitterWindow: func() (time.Duration, time.Duration) {
			return DefaultJitterMin, DefaultJitterMax
		},
		sleep: sleepContext,
	}
}

// SetUpdateCallback sets the callback invoked with a snapshot after every change
func (s *Service) SetUpdateCallback(callback func([]model.QueueEntry)) {
	s.queueMutex.Lock()
	s.onUpdate = callback
	s.queueMutex.Unlock()
}

// SetDeselectCallback sets the callback invoked once an entry has been processed
func (s *Service) SetDeselectCallback(callback func(id string)) {
	s.queueMutex.Lock()
	s.onDeselect = callback
	s.queueMutex.Unlock()
}

// SetJitterWindowFunc sets the source of the jitter window, read before each entry
func (s *Service) SetJitterWindowFunc(fn func() (time.Duration, time.Duration)) {
	s.queueMutex.Lock()
	s.jitterWindow = fn
	s.queueMutex.Unlock()
}

// SetSleepFunc replaces the function used to wait out the jitter delay
func (s *Service) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	s.queueMutex.Lock()
	s.sleep = fn
	s.queueMutex.Unlock()
}

// Enqueue adds id to the end of the queue, or updates its label in place
func (s *Service) Enqueue(id, label string) model.QueueEntry {
	s.queueMutex.Lock()
	entry, exists := s.entries[id]
	if exists {
		entry.Label = label
	} else {
		entry = &model.QueueEntry{ID: id, Label: label, AddedAt: time.Now()}
		s.entries[id] = entry
		s.order = append(s.order, id)
	}
	result := *entry
	s.queueMutex.Unlock()

	s.notifyUpdate()
	return result
}

// Remove drops id from the queue and reports whether it was present
func (s *Service) Remove(id string) bool {
	s.queueMutex.Lock()
	if _, exists := s.entries[id]; !exists {
		s.queueMutex.Unlock()
		return false
	}
	delete(s.entries, id)
	for i, queued := range s.order {
		if queued == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.queueMutex.Unlock()

	s.notifyUpdate()
	return true
}

// Has reports whether id is queued
func (s *Service) Has(id string) bool {
	s.queueMutex.RLock()
	defer s.queueMutex.RUnlock()
	_, exists := s.entries[id]
	return exists
}

// Len returns the number of queued entries
func (s *Service) Len() int {
	s.queueMutex.RLock()
	defer s.queueMutex.RUnlock()
	return len(s.order)
}

// Entries returns the queued entries in processing order
func (s *Service) Entries() []model.QueueEntry {
	s.queueMutex.RLock()
	defer s.queueMutex.RUnlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() []model.QueueEntry {
	entries := make([]model.QueueEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, *s.entries[id])
	}
	return entries
}

// Draining reports whether a drain is running
func (s *Service) Draining() bool {
	s.queueMutex.RLock()
	defer s.queueMutex.RUnlock()
	return s.draining
}

// LastReport returns the report of the most recent finished drain
func (s *Service) LastReport() (*model.DrainReport, bool) {
	s.queueMutex.RLock()
	defer s.queueMutex.RUnlock()
	return s.lastReport, s.lastReport != nil
}

// Drain processes entries in order until the queue is empty. Entries added
// while draining are processed too. Cancelling ctx stops the drain between
// entries, never during one: the remaining entries stay queued.
func (s *Service) Drain(ctx context.Context) (*model.DrainReport, error) {
	s.queueMutex.Lock()
	if s.draining {
		s.queueMutex.Unlock()
		return nil, ErrDrainInProgress
	}
	s.draining = true
	s.queueMutex.Unlock()

	report := &model.DrainReport{StartedAt: time.Now()}
	defer func() {
		report.FinishedAt = time.Now()
		s.queueMutex.Lock()
		s.draining = false
		s.lastReport = report
		s.queueMutex.Unlock()
		log.Printf("[Queue] Drain finished: %d processed, %d dispatched", len(report.Results), report.Count(model.OutcomeDispatched))
	}()

	for {
		entry, ok := s.front()
		if !ok {
			return report, nil
		}

		if err := s.wait(ctx); err != nil {
			log.Printf("[Queue] Drain stopped with %d entries left: %v", s.Len(), err)
			return report, err
		}

		result := s.process(context.WithoutCancel(ctx), entry)
		report.Results = append(report.Results, result)

		s.Remove(entry.ID)
		s.deselect(entry.ID)
	}
}

// front returns the first queued entry
func (s *Service) front() (model.QueueEntry, bool) {
	s.queueMutex.RLock()
	defer s.queueMutex.RUnlock()
	if len(s.order) == 0 {
		return model.QueueEntry{}, false
	}
	return *s.entries[s.order[0]], true
}

// wait sleeps for a random duration inside the jitter window
func (s *Service) wait(ctx context.Context) error {
	s.queueMutex.RLock()
	window := s.jitterWindow
	sleep := s.sleep
	s.queueMutex.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	lo, hi := window()
	return sleep(ctx, jitter(lo, hi))
}

// process resolves and dispatches a single entry
func (s *Service) process(ctx context.Context, entry model.QueueEntry) model.EntryResult {
	result := model.EntryResult{ID: entry.ID, Label: entry.Label}

	item, err := s.resolver.Resolve(ctx, entry.ID)
	if err != nil {
		log.Printf("[Queue] Skipping %s: %v", entry.ID, err)
		result.Outcome = model.OutcomeResolutionFailed
		result.Error = err.Error()
		return result
	}

	if err := s.dispatcher.Dispatch(ctx, item); err != nil {
		if dispatch.IsAbort(err) {
			result.Outcome = model.OutcomeAborted
		} else {
			result.Outcome = model.OutcomeBackendFailed
		}
		result.Error = err.Error()
		return result
	}

	result.Outcome = model.OutcomeDispatched
	return result
}

// notifyUpdate calls the update callback with a snapshot
func (s *Service) notifyUpdate() {
	s.queueMutex.RLock()
	callback := s.onUpdate
	var entries []model.QueueEntry
	if callback != nil {
		entries = s.snapshotLocked()
	}
	s.queueMutex.RUnlock()

	if callback != nil {
		callback(entries)
	}
}

func (s *Service) deselect(id string) {
	s.queueMutex.RLock()
	callback := s.onDeselect
	s.queueMutex.RUnlock()

	if callback != nil {
		callback(id)
	}
}

// jitter returns a uniformly distributed duration in [lo, hi]
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
