package ports

import "github.com/nebrix/klokpilot/internal/domain"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// StatusSink receives display updates from the automation loop. The terminal
// dashboard implements it; tests and headless runs use NopStatusSink.
// Implementations must never block the caller for long and never fail.
type StatusSink interface {
	SetStatus(message string, severity Severity)
	ShowIdentity(identity domain.Identity, position, total int)
	ShowPoints(points domain.Points)
	ShowRateLimit(snapshot domain.RateLimitSnapshot)
	ShowModels(models []domain.Model)
}

type NopStatusSink struct{}

var _ StatusSink = NopStatusSink{}

func (NopStatusSink) SetStatus(string, Severity)             {}
func (NopStatusSink) ShowIdentity(domain.Identity, int, int) {}
func (NopStatusSink) ShowPoints(domain.Points)               {}
func (NopStatusSink) ShowRateLimit(domain.RateLimitSnapshot) {}
func (NopStatusSink) ShowModels([]domain.Model)              {}
