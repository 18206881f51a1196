package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// MemoryStore keeps the most recent incidents in process memory. Once
// capacity is reached the oldest saved incident is evicted.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]models.Record
	order    []string
	capacity int
}

// NewMemoryStore returns a store bounded to capacity records; zero or less
// means 1000.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{records: make(map[string]models.Record), capacity: capacity}
}

func (s *MemoryStore) Save(ctx context.Context, rec models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.IncidentID]; !exists {
		s.order = append(s.order, rec.IncidentID)
	}
	s.records[rec.IncidentID] = rec.Clone()
	for len(s.order) > s.capacity {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, incidentID string) (models.Record, error) {
	if err := ctx.Err(); err != nil {
		return models.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[incidentID]
	if !ok {
		return models.Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns summaries newest first.
func (s *MemoryStore) List(ctx context.Context, req models.ListIncidentsRequest) (models.ListIncidentsResponse, error) {
	if err := ctx.Err(); err != nil {
		return models.ListIncidentsResponse{}, err
	}
	s.mu.RLock()
	summaries := make([]models.IncidentSummary, 0, len(s.records))
	for _, rec := range s.records {
		if sum := rec.Summary(); matches(sum, req) {
			summaries = append(summaries, sum)
		}
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].IncidentID > summaries[j].IncidentID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	limit, offset := pageBounds(req)
	if offset >= len(summaries) {
		return models.ListIncidentsResponse{}, nil
	}
	end := offset + limit
	if end > len(summaries) {
		end = len(summaries)
	}
	page := summaries[offset:end]
	return models.ListIncidentsResponse{
		Incidents:     page,
		NextPageToken: nextToken(offset, len(page), limit),
	}, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
