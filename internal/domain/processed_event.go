package domain

import "time"

// EventOutcome итог обработки события платежной системы
type EventOutcome string

const (
	OutcomeApplied          EventOutcome = "applied"
	OutcomeAlreadyProcessed EventOutcome = "already_processed"
	OutcomeSkipped          EventOutcome = "skipped"
	OutcomeIgnored          EventOutcome = "ignored"
	OutcomeFailed           EventOutcome = "failed"
)

// ProcessedEvent запись журнала обработанных событий.
// Наличие записи означает "не применять повторно".
type ProcessedEvent struct {
	EventID     string       `db:"event_id" json:"event_id"`
	EventType   string       `db:"event_type" json:"event_type"`
	Outcome     EventOutcome `db:"outcome" json:"outcome"`
	Detail      string       `db:"detail" json:"detail,omitempty"`
	ProcessedAt time.Time    `db:"processed_at" json:"processed_at"`
}
