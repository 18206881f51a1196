package repo

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// ErrNotFound is returned by Get for unknown incident ids.
var ErrNotFound = errors.New("incident not found")

// IncidentStore persists finished incident records.
type IncidentStore interface {
	Save(ctx context.Context, rec models.Record) error
	Get(ctx context.Context, incidentID string) (models.Record, error)
	List(ctx context.Context, req models.ListIncidentsRequest) (models.ListIncidentsResponse, error)
	Close() error
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageBounds resolves the limit and offset for a list request. Malformed
// tokens restart from the first page.
func pageBounds(req models.ListIncidentsRequest) (limit, offset int) {
	limit = req.PageSize
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if req.PageToken != "" {
		if v, err := strconv.Atoi(req.PageToken); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func nextToken(offset, returned, limit int) string {
	if returned < limit {
		return ""
	}
	return strconv.Itoa(offset + returned)
}

func matches(s models.IncidentSummary, req models.ListIncidentsRequest) bool {
	if req.Service != "" && !strings.EqualFold(s.Service, req.Service) {
		return false
	}
	if req.Decision != "" && s.Decision != req.Decision {
		return false
	}
	return req.TimeRange.Contains(s.CreatedAt)
}
