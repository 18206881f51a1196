package models

import "time"

// RunIncidentRequest asks the engine to process one raw alert.
type RunIncidentRequest struct {
	Alert    string
	TenantID string
}

// TimeRange bounds a history query. Zero values are open ends.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the range.
func (r TimeRange) Contains(ts time.Time) bool {
	if !r.Start.IsZero() && ts.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && ts.After(r.End) {
		return false
	}
	return true
}

// ListIncidentsRequest captures filters for stored incidents.
type ListIncidentsRequest struct {
	Service   string
	Decision  Decision
	TimeRange TimeRange
	PageSize  int
	PageToken string
}

// ListIncidentsResponse contains incident summaries and pagination state.
type ListIncidentsResponse struct {
	Incidents     []IncidentSummary
	NextPageToken string
}

// IncidentSummary is the indexed view of a stored incident.
type IncidentSummary struct {
	IncidentID string       `json:"incident_id"`
	Service    string       `json:"service"`
	Severity   Severity     `json:"severity"`
	Decision   Decision     `json:"decision,omitempty"`
	Status     ReportStatus `json:"status,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Summary derives the indexed view of a record.
func (r Record) Summary() IncidentSummary {
	s := IncidentSummary{
		IncidentID: r.IncidentID,
		Service:    r.Service,
		Severity:   r.Severity,
		Decision:   r.Decision,
		CreatedAt:  r.CreatedAt,
	}
	if r.FinalReport != nil {
		s.Status = r.FinalReport.Status
	}
	return s
}
