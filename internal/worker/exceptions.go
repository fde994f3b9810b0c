package worker

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ExceptionReporter receives every error a worker raises while handling
// operations or running workload hooks.
type ExceptionReporter interface {
	Report(testID string, err error)
}

// ExceptionRecord is one reported failure.
type ExceptionRecord struct {
	ID     uuid.UUID
	TestID string
	Err    error
	Time   time.Time
}

// ExceptionLog is an in-memory ExceptionReporter.
type ExceptionLog struct {
	mu      sync.Mutex
	records []ExceptionRecord
}

func NewExceptionLog() *ExceptionLog {
	return &ExceptionLog{}
}

func (l *ExceptionLog) Report(testID string, err error) {
	if err == nil {
		return
	}
	rec := ExceptionRecord{ID: uuid.New(), TestID: testID, Err: err, Time: time.Now()}
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	// a rejected phase start is an expected race with the coordinator
	if errors.Is(err, ErrPhaseRunning) {
		log.Debug().Str("test_id", testID).Err(err).Msg("worker.ExceptionLog.Report")
		return
	}
	log.Error().Str("exception_id", rec.ID.String()).Str("test_id", testID).Err(err).Msg("worker.ExceptionLog.Report")
}

// Records returns a copy of everything reported so far.
func (l *ExceptionLog) Records() []ExceptionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ExceptionRecord, len(l.records))
	copy(out, l.records)
	return out
}

// ForTest returns the records reported for testID.
func (l *ExceptionLog) ForTest(testID string) []ExceptionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ExceptionRecord, 0)
	for _, rec := range l.records {
		if rec.TestID == testID {
			out = append(out, rec)
		}
	}
	return out
}

func (l *ExceptionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
