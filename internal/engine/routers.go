package engine

import (
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/workflow"
)

var analysisStages = []string{StageLogAnalysis, StageKnowledgeLookup, StageRootCause}

func unidentified(service string) bool {
	s := strings.TrimSpace(service)
	return s == "" || strings.EqualFold(s, models.UnknownService) || strings.EqualFold(s, "unknown service")
}

// routeAfterTrigger ends the run for alerts that could not be attributed to
// a service and fans out to every analysis otherwise.
func routeAfterTrigger(rec models.Record) workflow.Next {
	if rec.HasError(StageTrigger) || unidentified(rec.Service) {
		return workflow.End()
	}
	return workflow.Parallel(analysisStages...)
}

// routeAfterCoordination always advances. Missing analyses are tolerated.
func routeAfterCoordination(logger *slog.Logger) workflow.Router {
	return func(rec models.Record) workflow.Next {
		if rec.Coordination != nil && len(rec.Coordination.AnalysesMissing) > 0 {
			logger.Warn("deciding with partial analysis",
				"incident_id", rec.IncidentID,
				"missing", rec.Coordination.AnalysesMissing,
			)
		}
		return workflow.Single(StageDecision)
	}
}

// routeAfterDecision only mitigates on an explicit auto_mitigation decision.
func routeAfterDecision(rec models.Record) workflow.Next {
	if rec.Decision == models.DecisionAutoMitigation {
		return workflow.Single(StageMitigation)
	}
	return workflow.Single(StageEscalation)
}
