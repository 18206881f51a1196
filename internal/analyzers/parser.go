package analyzers

import (
	"context"
	"errors"
	"strings"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// ErrEmptyAlert is returned when an alert carries no text.
var ErrEmptyAlert = errors.New("analyzers: empty alert")

const maxDescriptionRunes = 200

type serviceKeyword struct {
	keyword string
	service string
}

// Checked in order; the first keyword found wins.
var defaultServiceKeywords = []serviceKeyword{
	{keyword: "payment", service: "Payment API"},
	{keyword: "auth", service: "Auth Service"},
	{keyword: "database", service: "Database"},
	{keyword: "gateway", service: "API Gateway"},
	{keyword: "load balancer", service: "Load Balancer"},
	{keyword: "load-balancer", service: "Load Balancer"},
}

// KeywordAlertParser attributes alerts to services by keyword.
type KeywordAlertParser struct {
	keywords []serviceKeyword
}

// NewKeywordAlertParser returns a parser using the built-in service table.
func NewKeywordAlertParser() *KeywordAlertParser {
	return &KeywordAlertParser{keywords: defaultServiceKeywords}
}

// Parse extracts service, severity and description from free text.
func (p *KeywordAlertParser) Parse(ctx context.Context, rawAlert string) (models.ParsedAlert, error) {
	if err := ctx.Err(); err != nil {
		return models.ParsedAlert{}, err
	}
	alert := strings.TrimSpace(rawAlert)
	if alert == "" {
		return models.ParsedAlert{}, ErrEmptyAlert
	}
	lower := strings.ToLower(alert)

	service := models.UnknownService
	for _, kw := range p.keywords {
		if strings.Contains(lower, kw.keyword) {
			service = kw.service
			break
		}
	}

	severity := models.SeverityMedium
	switch {
	case strings.Contains(lower, "critical"), strings.Contains(lower, "high"):
		severity = models.SeverityHigh
	case strings.Contains(lower, "low"):
		severity = models.SeverityLow
	}

	return models.ParsedAlert{
		Service:     service,
		Severity:    severity,
		Description: truncateRunes(alert, maxDescriptionRunes),
	}, nil
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
