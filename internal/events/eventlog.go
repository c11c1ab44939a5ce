package events

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	EventBufferSize     = 1024                   // Pending events held in memory
	MaxEventsPerSec     = 10000                  // Global rate limit
	MaxEventsPerMatch   = 500                    // Per-match rate limit per second
	BatchFlushSize      = 64                     // Events per batch write
	BatchFlushInterval  = 100 * time.Millisecond // How often to flush
	MatchLimiterCleanup = 5 * time.Minute        // Cleanup interval for match limiters
)

// EventLog is a bounded, rate-limited, append-only JSONL audit log.
// Subscribe Record to a Bus to capture every published event.
type EventLog struct {
	mu      sync.Mutex
	pending []Event

	globalLimiter *rate.Limiter
	matchLimiters sync.Map // map[string]*matchLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	fileMu sync.Mutex
	file   *os.File
	writer *bufio.Writer

	logger *zap.Logger

	droppedCount atomic.Uint64
	totalCount   atomic.Uint64
}

type matchLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nano
}

// NewEventLog creates a new bounded event log.
func NewEventLog(logger *zap.Logger) *EventLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLog{
		pending:       make([]Event, 0, BatchFlushSize),
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
		logger:        logger,
	}
}

// Start opens the log file for append and begins the async writer.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		el.file = file
		el.writer = bufio.NewWriter(file)
	}

	el.running.Store(true)
	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()

	return nil
}

// Stop flushes pending events and closes the file.
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.fileMu.Lock()
		if el.writer != nil {
			_ = el.writer.Flush()
		}
		if el.file != nil {
			_ = el.file.Close()
		}
		el.fileMu.Unlock()
	})
}

// Record queues an event. It returns false when the log is stopped, the
// event was rate limited, or the oldest pending event had to be dropped.
func (el *EventLog) Record(e Event) bool {
	if !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		el.droppedCount.Add(1)
		return false
	}

	// Per-match limit keeps one runaway match from flooding the log
	if e.MatchID != "" && !el.matchLimiter(e.MatchID).Allow() {
		el.droppedCount.Add(1)
		return false
	}

	el.mu.Lock()
	dropped := false
	if len(el.pending) >= EventBufferSize {
		el.pending = el.pending[1:]
		dropped = true
	}
	el.pending = append(el.pending, e)
	el.mu.Unlock()

	el.totalCount.Add(1)
	if dropped {
		el.droppedCount.Add(1)
		return false
	}
	return true
}

func (el *EventLog) matchLimiter(matchID string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := el.matchLimiters.Load(matchID); ok {
		entry := v.(*matchLimiterEntry)
		entry.lastUsed.Store(now)
		return entry.limiter
	}

	entry := &matchLimiterEntry{limiter: rate.NewLimiter(MaxEventsPerMatch, MaxEventsPerMatch/5)}
	entry.lastUsed.Store(now)
	actual, _ := el.matchLimiters.LoadOrStore(matchID, entry)
	return actual.(*matchLimiterEntry).limiter
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			for el.flush() > 0 {
			}
			return
		case <-ticker.C:
			el.flush()
		}
	}
}

func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(MatchLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			el.cleanupMatchLimiters()
		}
	}
}

func (el *EventLog) cleanupMatchLimiters() {
	cutoff := time.Now().Add(-MatchLimiterCleanup).UnixNano()
	el.matchLimiters.Range(func(key, value any) bool {
		if value.(*matchLimiterEntry).lastUsed.Load() < cutoff {
			el.matchLimiters.Delete(key)
		}
		return true
	})
}

// flush writes up to one batch and returns how many events it consumed.
func (el *EventLog) flush() int {
	el.mu.Lock()
	n := len(el.pending)
	if n > BatchFlushSize {
		n = BatchFlushSize
	}
	batch := make([]Event, n)
	copy(batch, el.pending[:n])
	el.pending = el.pending[n:]
	el.mu.Unlock()

	if n == 0 {
		return 0
	}

	el.fileMu.Lock()
	defer el.fileMu.Unlock()
	if el.writer == nil {
		return n
	}
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			el.logger.Warn("event log marshal failed", zap.Stringer("type", e.Type), zap.Error(err))
			continue
		}
		el.writer.Write(data)
		el.writer.WriteByte('\n')
	}
	if err := el.writer.Flush(); err != nil {
		el.logger.Warn("event log flush failed", zap.Error(err))
	}
	return n
}

// GetStats returns counters for monitoring.
func (el *EventLog) GetStats() map[string]any {
	el.mu.Lock()
	pending := len(el.pending)
	el.mu.Unlock()

	return map[string]any{
		"total":   el.totalCount.Load(),
		"dropped": el.droppedCount.Load(),
		"pending": pending,
		"running": el.running.Load(),
	}
}

// GetDroppedCount returns the number of dropped events.
func (el *EventLog) GetDroppedCount() uint64 {
	return el.droppedCount.Load()
}

// GetTotalCount returns the total number of events accepted.
func (el *EventLog) GetTotalCount() uint64 {
	return el.totalCount.Load()
}
