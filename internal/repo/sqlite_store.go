package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS incidents (
		incident_id TEXT PRIMARY KEY,
		service     TEXT NOT NULL DEFAULT '',
		severity    TEXT NOT NULL DEFAULT '',
		decision    TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		record      TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents(created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_service ON incidents(service COLLATE NOCASE);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_decision ON incidents(decision);`,
}

// SQLiteStore persists incidents in a SQLite database. The full record is
// kept as JSON next to the columns List filters on.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, utils.NewAppError("repo.SQLiteStore", "create directory for "+path, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, utils.NewAppError("repo.SQLiteStore", "open "+path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	s.logger.Debug("applying sqlite migrations", "count", len(migrations))
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	return nil
}

// Save inserts or replaces the record.
func (s *SQLiteStore) Save(ctx context.Context, rec models.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return utils.NewAppError("repo.SQLiteStore", "encode "+rec.IncidentID, err)
	}
	sum := rec.Summary()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (incident_id, service, severity, decision, status, created_at, updated_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(incident_id) DO UPDATE SET
			service = excluded.service,
			severity = excluded.severity,
			decision = excluded.decision,
			status = excluded.status,
			updated_at = excluded.updated_at,
			record = excluded.record`,
		sum.IncidentID, sum.Service, string(sum.Severity), string(sum.Decision), string(sum.Status),
		sum.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(), string(payload),
	)
	if err != nil {
		return utils.NewAppError("repo.SQLiteStore", "save "+rec.IncidentID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, incidentID string) (models.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM incidents WHERE incident_id = ?`, incidentID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, ErrNotFound
	}
	if err != nil {
		return models.Record{}, utils.NewAppError("repo.SQLiteStore", "get "+incidentID, err)
	}
	var rec models.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return models.Record{}, utils.NewAppError("repo.SQLiteStore", "decode "+incidentID, err)
	}
	return rec, nil
}

// List returns summaries newest first, filtered in SQL.
func (s *SQLiteStore) List(ctx context.Context, req models.ListIncidentsRequest) (models.ListIncidentsResponse, error) {
	var (
		where []string
		args  []any
	)
	if req.Service != "" {
		where = append(where, "service = ? COLLATE NOCASE")
		args = append(args, req.Service)
	}
	if req.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, string(req.Decision))
	}
	if !req.TimeRange.Start.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, req.TimeRange.Start.UnixNano())
	}
	if !req.TimeRange.End.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, req.TimeRange.End.UnixNano())
	}

	query := `SELECT incident_id, service, severity, decision, status, created_at FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit, offset := pageBounds(req)
	query += " ORDER BY created_at DESC, incident_id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.ListIncidentsResponse{}, utils.NewAppError("repo.SQLiteStore", "list", err)
	}
	defer rows.Close()

	var out []models.IncidentSummary
	for rows.Next() {
		var sum models.IncidentSummary
		var severity, decision, status string
		var created int64
		if err := rows.Scan(&sum.IncidentID, &sum.Service, &severity, &decision, &status, &created); err != nil {
			return models.ListIncidentsResponse{}, utils.NewAppError("repo.SQLiteStore", "scan", err)
		}
		sum.Severity = models.Severity(severity)
		sum.Decision = models.Decision(decision)
		sum.Status = models.ReportStatus(status)
		sum.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return models.ListIncidentsResponse{}, utils.NewAppError("repo.SQLiteStore", "list", err)
	}
	return models.ListIncidentsResponse{
		Incidents:     out,
		NextPageToken: nextToken(offset, len(out), limit),
	}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
