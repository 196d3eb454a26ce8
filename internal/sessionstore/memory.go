package sessionstore

import (
	"context"
	"sync"

	"github.com/stemsi/ujian/internal/examsession"
)

// Memory keeps session records in process memory. Records do not survive a
// restart; use it for tests and throwaway runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]examsession.Record
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]examsession.Record)}
}

// Get returns the record for examID.
func (m *Memory) Get(_ context.Context, examID string) (*examsession.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[examID]
	if !ok {
		return nil, examsession.ErrRecordNotFound
	}
	return &rec, nil
}

// Set stores rec, replacing any previous record for the same exam.
func (m *Memory) Set(_ context.Context, rec examsession.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ExamID] = rec
	return nil
}

// Clear removes the record for examID. Clearing a missing record is not an error.
func (m *Memory) Clear(_ context.Context, examID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, examID)
	return nil
}
