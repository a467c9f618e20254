// internal/model/delivery.go
package model

import (
	"math"
	"time"
)

type OutcomeStatus string

const (
	StatusPending OutcomeStatus = "pending"
	StatusSent    OutcomeStatus = "sent"
	StatusFailed  OutcomeStatus = "failed"
	StatusSkipped OutcomeStatus = "skipped"
)

// FailureKind says why a recipient ended up Failed or Skipped.
type FailureKind string

const (
	KindNone               FailureKind = ""
	KindInvalidRecipient   FailureKind = "invalid_recipient"
	KindTransientExhausted FailureKind = "transient_exhausted"
	KindTransient          FailureKind = "transient"
	KindFatal              FailureKind = "fatal"
	KindPermanent          FailureKind = "permanent"
	KindAborted            FailureKind = "aborted"
)

// SendOutcome is the delivery state of one recipient. A Failed outcome with a
// non-zero RetryAt is waiting for another attempt and is not terminal.
type SendOutcome struct {
	Status      OutcomeStatus `json:"status"`
	Kind        FailureKind   `json:"kind,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	RetryAt     time.Time     `json:"retry_at,omitempty"`
}

func (o SendOutcome) Terminal() bool {
	switch o.Status {
	case StatusSent, StatusSkipped:
		return true
	case StatusFailed:
		return o.RetryAt.IsZero()
	}
	return false
}

func (o SendOutcome) Retrying() bool {
	return o.Status == StatusFailed && !o.RetryAt.IsZero()
}

// RecipientState pairs a recipient with its current outcome.
type RecipientState struct {
	Recipient Recipient   `json:"recipient"`
	Outcome   SendOutcome `json:"outcome"`
}

// Report is the ordered list of recipient states of one run.
type Report []RecipientState

// Counts tallies the report.
func (r Report) Counts() Counts {
	var c Counts
	for _, s := range r {
		switch {
		case s.Outcome.Status == StatusSent:
			c.Sent++
		case s.Outcome.Status == StatusSkipped:
			c.Skipped++
		case s.Outcome.Retrying():
			c.Retrying++
		case s.Outcome.Status == StatusFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c
}

// ReportRow is the external view of a recipient state. Status collapses
// skipped recipients into "Failed"; Outcome keeps the distinction.
type ReportRow struct {
	Email           string  `json:"email"`
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	Outcome         string  `json:"outcome"`
	Reason          string  `json:"reason,omitempty"`
	Date            string  `json:"date"`
	Time            string  `json:"time"`
	AttemptCount    int     `json:"attemptCount"`
	DurationSeconds float64 `json:"durationSeconds"`
	Attachment1     string  `json:"attachment1"`
	Attachment2     string  `json:"attachment2"`
}

// NewReportRow converts a state to its external representation.
func NewReportRow(s RecipientState, attachment1, attachment2 string) ReportRow {
	row := ReportRow{
		Email:           s.Recipient.Email,
		Name:            s.Recipient.Name,
		Reason:          s.Outcome.Reason,
		AttemptCount:    s.Outcome.Attempts,
		DurationSeconds: math.Round(s.Outcome.Duration.Seconds()*100) / 100,
		Attachment1:     attachment1,
		Attachment2:     attachment2,
	}

	switch {
	case s.Outcome.Status == StatusSent:
		row.Status, row.Outcome = "Sent", "sent"
	case s.Outcome.Status == StatusSkipped:
		row.Status, row.Outcome = "Failed", "skipped"
	case s.Outcome.Retrying():
		row.Status, row.Outcome = "Pending", "retrying"
	case s.Outcome.Status == StatusFailed:
		row.Status, row.Outcome = "Failed", "failed"
	default:
		row.Status, row.Outcome = "Pending", "pending"
	}

	if !s.Outcome.CompletedAt.IsZero() {
		row.Date = s.Outcome.CompletedAt.Format("2006-01-02")
		row.Time = s.Outcome.CompletedAt.Format("15:04:05")
	}
	return row
}

// Delivery is a recorded outcome as it travels through the journal and lands
// in durable storage.
type Delivery struct {
	CampaignID  string        `db:"campaign_id" json:"campaign_id"`
	Email       string        `db:"email" json:"email"`
	Name        string        `db:"name" json:"name"`
	Ordinal     int           `db:"ordinal" json:"ordinal"`
	Status      OutcomeStatus `db:"status" json:"status"`
	Kind        FailureKind   `db:"kind" json:"kind,omitempty"`
	Reason      string        `db:"reason" json:"reason,omitempty"`
	Attempts    int           `db:"attempts" json:"attempts"`
	DurationMS  int64         `db:"duration_ms" json:"duration_ms"`
	CompletedAt *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	RetryAt     *time.Time    `db:"retry_at" json:"retry_at,omitempty"`
}

// NewDelivery flattens a state for persistence.
func NewDelivery(campaignID string, s RecipientState) Delivery {
	d := Delivery{
		CampaignID: campaignID,
		Email:      s.Recipient.Email,
		Name:       s.Recipient.Name,
		Ordinal:    s.Recipient.Ordinal,
		Status:     s.Outcome.Status,
		Kind:       s.Outcome.Kind,
		Reason:     s.Outcome.Reason,
		Attempts:   s.Outcome.Attempts,
		DurationMS: s.Outcome.Duration.Milliseconds(),
	}
	if !s.Outcome.CompletedAt.IsZero() {
		t := s.Outcome.CompletedAt
		d.CompletedAt = &t
	}
	if !s.Outcome.RetryAt.IsZero() {
		t := s.Outcome.RetryAt
		d.RetryAt = &t
	}
	return d
}

// Rank orders deliveries recorded with the same attempt count: pending, then
// waiting for a retry, then terminal.
func (d Delivery) Rank() int {
	switch {
	case d.Status == StatusPending:
		return 0
	case d.Status == StatusFailed && d.RetryAt != nil:
		return 1
	}
	return 2
}

// Progress orders deliveries of one recipient by attempts, then rank. A store
// keeps the delivery with the highest progress it has seen.
func (d Delivery) Progress() int {
	return d.Attempts*3 + d.Rank()
}

// State rebuilds the recipient state a delivery was made from.
func (d Delivery) State() RecipientState {
	s := RecipientState{
		Recipient: Recipient{Email: d.Email, Name: d.Name, Ordinal: d.Ordinal},
		Outcome: SendOutcome{
			Status:   d.Status,
			Kind:     d.Kind,
			Reason:   d.Reason,
			Attempts: d.Attempts,
			Duration: time.Duration(d.DurationMS) * time.Millisecond,
		},
	}
	if d.CompletedAt != nil {
		s.Outcome.CompletedAt = *d.CompletedAt
	}
	if d.RetryAt != nil {
		s.Outcome.RetryAt = *d.RetryAt
	}
	return s
}
