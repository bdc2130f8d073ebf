package types

import "time"

// UsageReportMessage is the SQS payload carrying a deferred usage report from
// the API to the report worker. JSON tags use snake_case.
type UsageReportMessage struct {
	MessageID string      `json:"message_id"`
	Subject   Subject     `json:"subject"`
	Feature   FeatureName `json:"feature"`
	N         int64       `json:"n"`
	At        time.Time   `json:"at"`
	Clobber   bool        `json:"clobber,omitempty"`

	// Observability
	TraceID string `json:"trace_id,omitempty"`
}

// Report converts the message back into a UsageReport.
func (m UsageReportMessage) Report() UsageReport {
	return UsageReport{
		Subject: m.Subject,
		Feature: m.Feature,
		N:       m.N,
		At:      m.At,
		Clobber: m.Clobber,
	}
}
