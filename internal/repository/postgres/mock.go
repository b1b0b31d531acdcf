package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/utils"
)

// MockRepository implements domain.DataRepository in memory for demo mode
// and tests. Stored slices are copied in and out.
type MockRepository struct {
	mu   sync.RWMutex
	days map[string][]domain.RawRecord
	logs []domain.PredictionLog
}

// NewMockRepository creates a new mock repository
func NewMockRepository() *MockRepository {
	return &MockRepository{days: make(map[string][]domain.RawRecord)}
}

func dayKey(resource string, day time.Time) string {
	return resource + "/" + utils.FormatDay(day)
}

// SaveDayRecords keeps a copy of the day
func (r *MockRepository) SaveDayRecords(ctx context.Context, resource string, day time.Time, records []domain.RawRecord) error {
	stored := make([]domain.RawRecord, len(records))
	copy(stored, records)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.days[dayKey(resource, day)] = stored
	return nil
}

// GetDayRecords returns a copy of the stored day, or nothing
func (r *MockRepository) GetDayRecords(ctx context.Context, resource string, day time.Time) ([]domain.RawRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.days[dayKey(resource, day)]
	if len(stored) == 0 {
		return nil, nil
	}
	out := make([]domain.RawRecord, len(stored))
	copy(out, stored)
	return out, nil
}

// SavePredictionLog appends the entry
func (r *MockRepository) SavePredictionLog(ctx context.Context, entry domain.PredictionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
	return nil
}

// PredictionLogs returns the logged requests in insertion order
func (r *MockRepository) PredictionLogs() []domain.PredictionLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PredictionLog, len(r.logs))
	copy(out, r.logs)
	return out
}

// Health always returns nil for mock
func (r *MockRepository) Health(ctx context.Context) error {
	return nil
}
