package analyzers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
)

type playbookStep struct {
	keywords []string
	action   string
}

var defaultPlaybook = []playbookStep{
	{keywords: []string{"scale", "pool"}, action: "Scaled %s connection pool from 50 to 100 connections"},
	{keywords: []string{"restart"}, action: "Restarted %s service instances"},
	{keywords: []string{"cache"}, action: "Cleared %s cache and implemented warming strategy"},
	{keywords: []string{"index"}, action: "Added database index for %s queries"},
	{keywords: []string{"circuit", "breaker"}, action: "Implemented circuit breaker pattern for %s"},
}

// PlaybookMitigator turns a remedy into a list of simulated actions.
type PlaybookMitigator struct {
	steps []playbookStep
	now   func() time.Time
}

// NewPlaybookMitigator returns a mitigator with the built-in playbook.
func NewPlaybookMitigator() *PlaybookMitigator {
	return &PlaybookMitigator{steps: defaultPlaybook, now: time.Now}
}

// Execute applies the remedy for service.
func (m *PlaybookMitigator) Execute(ctx context.Context, service, remedy string) (models.MitigationResult, error) {
	if err := ctx.Err(); err != nil {
		return models.MitigationResult{}, err
	}
	lower := strings.ToLower(remedy)

	var actions []string
	for _, step := range m.steps {
		if containsAny(lower, step.keywords) {
			actions = append(actions, fmt.Sprintf(step.action, service))
		}
	}
	if len(actions) == 0 {
		actions = []string{
			"Applied recommended solution: " + truncateRunes(remedy, 100),
			fmt.Sprintf("Restarted %s service", service),
		}
	}

	return models.MitigationResult{
		Actions: actions,
		Status:  models.MitigationSuccess,
		VerificationChecks: map[string]string{
			"service_health": "HEALTHY",
			"error_rate":     "NORMAL",
			"response_time":  "OPTIMAL",
		},
		CompletedAt: m.now().UTC(),
	}, nil
}
