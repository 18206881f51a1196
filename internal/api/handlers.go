package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// FromRunIncidentStruct converts a RunIncident request document.
func FromRunIncidentStruct(req *structpb.Struct) (models.RunIncidentRequest, error) {
	if req == nil {
		return models.RunIncidentRequest{}, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()
	alert := strings.TrimSpace(fields["alert"].GetStringValue())
	if alert == "" {
		return models.RunIncidentRequest{}, fmt.Errorf("alert is required")
	}
	return models.RunIncidentRequest{
		Alert:    fields["alert"].GetStringValue(),
		TenantID: fields["tenant_id"].GetStringValue(),
	}, nil
}

// FromGetIncidentStruct extracts the incident id of a GetIncident request.
func FromGetIncidentStruct(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	id := strings.TrimSpace(req.GetFields()["incident_id"].GetStringValue())
	if id == "" {
		return "", fmt.Errorf("incident_id is required")
	}
	return id, nil
}

// FromListIncidentsStruct converts ListIncidents filters. Timestamps are RFC3339.
func FromListIncidentsStruct(req *structpb.Struct) (models.ListIncidentsRequest, error) {
	var out models.ListIncidentsRequest
	if req == nil {
		return out, nil
	}
	fields := req.GetFields()
	out.Service = fields["service"].GetStringValue()
	out.PageToken = fields["page_token"].GetStringValue()

	if raw := fields["decision"].GetStringValue(); raw != "" {
		d := models.Decision(strings.ToLower(raw))
		if !d.Valid() {
			return out, fmt.Errorf("unknown decision %q", raw)
		}
		out.Decision = d
	}

	if v, ok := fields["page_size"]; ok {
		size, err := intValue(v)
		if err != nil {
			return out, fmt.Errorf("page_size: %w", err)
		}
		out.PageSize = size
	}

	var err error
	if out.TimeRange.Start, err = optionalTime(fields["start"]); err != nil {
		return out, fmt.Errorf("start: %w", err)
	}
	if out.TimeRange.End, err = optionalTime(fields["end"]); err != nil {
		return out, fmt.Errorf("end: %w", err)
	}
	if !out.TimeRange.Start.IsZero() && !out.TimeRange.End.IsZero() && out.TimeRange.End.Before(out.TimeRange.Start) {
		return out, fmt.Errorf("end must not precede start")
	}
	return out, nil
}

func optionalTime(v *structpb.Value) (time.Time, error) {
	raw := v.GetStringValue()
	if raw == "" {
		return time.Time{}, nil
	}
	return utils.ParseRFC3339(raw)
}

func intValue(v *structpb.Value) (int, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if kind.NumberValue < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return int(kind.NumberValue), nil
	case *structpb.Value_StringValue:
		n, err := strconv.Atoi(kind.StringValue)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid value %q", kind.StringValue)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number")
	}
}

// RecordToStruct renders a record as its JSON document.
func RecordToStruct(rec models.Record) (*structpb.Struct, error) {
	return toStruct(rec)
}

// RunResponseToStruct renders a RunIncident response.
func RunResponseToStruct(rec models.Record, deduplicated bool) (*structpb.Struct, error) {
	out, err := toStruct(rec)
	if err != nil {
		return nil, err
	}
	out.Fields["deduplicated"] = structpb.NewBoolValue(deduplicated)
	return out, nil
}

// ListResponseToStruct renders a ListIncidents response.
func ListResponseToStruct(resp models.ListIncidentsResponse) (*structpb.Struct, error) {
	incidents := resp.Incidents
	if incidents == nil {
		incidents = []models.IncidentSummary{}
	}
	return toStruct(struct {
		Incidents     []models.IncidentSummary `json:"incidents"`
		NextPageToken string                   `json:"next_page_token,omitempty"`
	}{incidents, resp.NextPageToken})
}

// StructToRecord decodes a record document, the inverse of RecordToStruct.
func StructToRecord(s *structpb.Struct) (models.Record, error) {
	var rec models.Record
	data, err := s.MarshalJSON()
	if err != nil {
		return rec, fmt.Errorf("encode struct: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return out, nil
}
