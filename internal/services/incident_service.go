package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-incident/internal/api"
	"github.com/miradorstack/mirador-incident/internal/cache"
	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/repo"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// ErrEmptyAlert is returned for blank alert text.
var ErrEmptyAlert = errors.New("alert text is empty")

// Runner executes the incident workflow for one alert.
type Runner interface {
	Run(ctx context.Context, rawAlert string) (models.Record, error)
}

// Option configures an IncidentService.
type Option func(*IncidentService)

// WithDedup suppresses repeated runs of the same alert text within window.
// A zero window or nil provider disables deduplication.
func WithDedup(provider cache.Provider, window time.Duration) Option {
	return func(s *IncidentService) {
		s.dedup = provider
		s.dedupWindow = window
	}
}

// WithClock overrides the time source for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(s *IncidentService) { s.now = now }
}

// IncidentService implements the IncidentEngine gRPC service on top of the
// workflow runner and the incident store.
type IncidentService struct {
	api.UnimplementedIncidentEngineServer

	logger      *slog.Logger
	runner      Runner
	store       repo.IncidentStore
	dedup       cache.Provider
	dedupWindow time.Duration
	latencies   *utils.LatencyTracker
	now         func() time.Time
}

// NewIncidentService constructs the service facade.
func NewIncidentService(logger *slog.Logger, runner Runner, store repo.IncidentStore, opts ...Option) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &IncidentService{
		logger:    logger,
		runner:    runner,
		store:     store,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process runs req through the workflow and persists the resulting record.
// The boolean is true when a stored record was returned for a repeated alert
// instead of running the workflow again.
func (s *IncidentService) Process(ctx context.Context, req models.RunIncidentRequest) (models.Record, bool, error) {
	if strings.TrimSpace(req.Alert) == "" {
		return models.Record{}, false, ErrEmptyAlert
	}
	if s.runner == nil {
		return models.Record{}, false, errors.New("workflow runner not configured")
	}

	key := dedupKey(req)
	if rec, ok := s.lookupDuplicate(ctx, key); ok {
		metrics.ObserveDedupHit()
		s.logger.Info("duplicate alert suppressed",
			slog.String("incident_id", rec.IncidentID),
			slog.String("tenant_id", req.TenantID),
		)
		return rec, true, nil
	}

	start := s.now()
	rec, err := s.runner.Run(ctx, req.Alert)
	duration := s.now().Sub(start)
	if err != nil {
		metrics.ObserveRun(duration, metrics.OutcomeError)
	} else {
		metrics.ObserveRun(duration, string(rec.Decision))
	}

	// Partial records from aborted runs are kept for inspection.
	persisted := s.persist(ctx, rec)
	if err != nil {
		return rec, false, err
	}
	if persisted {
		s.rememberAlert(ctx, key, rec.IncidentID)
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("incident run latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return rec, false, nil
}

func (s *IncidentService) persist(ctx context.Context, rec models.Record) bool {
	if s.store == nil || rec.IncidentID == "" {
		return false
	}
	if err := s.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("persist incident failed",
			slog.String("incident_id", rec.IncidentID),
			slog.String("op", utils.OpOf(err)),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

func (s *IncidentService) dedupEnabled() bool {
	return s.dedup != nil && s.dedupWindow > 0 && s.store != nil
}

func (s *IncidentService) lookupDuplicate(ctx context.Context, key string) (models.Record, bool) {
	if !s.dedupEnabled() {
		return models.Record{}, false
	}
	raw, err := s.dedup.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("dedup lookup failed", slog.Any("error", err))
		}
		return models.Record{}, false
	}
	rec, err := s.store.Get(ctx, string(raw))
	if err != nil {
		// The pointer outlived the record; drop it and run again.
		if delErr := s.dedup.Del(ctx, key); delErr != nil {
			s.logger.Warn("dedup cleanup failed", slog.Any("error", delErr))
		}
		return models.Record{}, false
	}
	return rec, true
}

func (s *IncidentService) rememberAlert(ctx context.Context, key, incidentID string) {
	if !s.dedupEnabled() {
		return
	}
	// First writer wins when identical alerts race.
	if _, err := s.dedup.SetNX(context.WithoutCancel(ctx), key, []byte(incidentID), s.dedupWindow); err != nil {
		s.logger.Warn("dedup remember failed", slog.String("incident_id", incidentID), slog.Any("error", err))
	}
}

func dedupKey(req models.RunIncidentRequest) string {
	sum := sha256.Sum256([]byte(req.TenantID + "\x00" + strings.TrimSpace(req.Alert)))
	return "incident:alert:" + hex.EncodeToString(sum[:])
}

// Get returns a stored incident.
func (s *IncidentService) Get(ctx context.Context, incidentID string) (models.Record, error) {
	if s.store == nil {
		return models.Record{}, errors.New("incident store not configured")
	}
	return s.store.Get(ctx, incidentID)
}

// List returns stored incident summaries.
func (s *IncidentService) List(ctx context.Context, req models.ListIncidentsRequest) (models.ListIncidentsResponse, error) {
	if s.store == nil {
		return models.ListIncidentsResponse{}, errors.New("incident store not configured")
	}
	return s.store.List(ctx, req)
}

// RunIncident implements the gRPC method.
func (s *IncidentService) RunIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	domainReq, err := api.FromRunIncidentStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.runner == nil {
		return nil, status.Error(codes.FailedPrecondition, "workflow not configured")
	}

	s.logger.Debug("RunIncident called", slog.String("tenant_id", domainReq.TenantID))
	rec, deduplicated, err := s.Process(ctx, domainReq)
	if err != nil {
		s.logger.Error("incident run failed", slog.String("incident_id", rec.IncidentID), slog.Any("error", err))
		return nil, status.Error(runErrorCode(err), fmt.Sprintf("incident run failed: %v", err))
	}

	out, err := api.RunResponseToStruct(rec, deduplicated)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func runErrorCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrEmptyAlert):
		return codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// GetIncident implements the gRPC method.
func (s *IncidentService) GetIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := api.FromGetIncidentStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident store not configured")
	}

	rec, err := s.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "incident %s not found", id)
	}
	if err != nil {
		s.logger.Error("get incident failed", slog.String("incident_id", id), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to load incident")
	}

	out, err := api.RecordToStruct(rec)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ListIncidents implements the gRPC method.
func (s *IncidentService) ListIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	domainReq, err := api.FromListIncidentsStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident store not configured")
	}

	resp, err := s.List(ctx, domainReq)
	if err != nil {
		s.logger.Error("list incidents failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list incidents")
	}

	out, err := api.ListResponseToStruct(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// LatencyP95 returns the current p95 run latency.
func (s *IncidentService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
