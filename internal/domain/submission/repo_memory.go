package submission

import (
	"context"
	"sort"
	"sync"
)

type memoryRepo struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryRepo returns a thread-safe in-process submission log.
func NewMemoryRepo() Repository {
	return &memoryRepo{records: make(map[string]*Record)}
}

func (m *memoryRepo) Create(_ context.Context, r *Record) error {
	r.prepare()
	cp := *r
	cp.Placeholders = append([]string(nil), r.Placeholders...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID.String()] = &cp
	return nil
}

func (m *memoryRepo) GetByID(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memoryRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Record, int, error) {
	m.mu.RLock()
	var matched []*Record
	for _, r := range m.records {
		if r.PatientID == patientID {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	// Newest first; id breaks ties so pages stay stable.
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.After(b.SubmittedAt)
		}
		return a.ID.String() > b.ID.String()
	})

	total := len(matched)
	if offset >= total {
		return []*Record{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *memoryRepo) Ping(context.Context) error { return nil }
