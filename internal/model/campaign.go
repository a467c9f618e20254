// internal/model/campaign.go
package model

import "time"

// Phase is the lifecycle state of the campaign controller.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseAborted   Phase = "aborted"
)

// Attachment is a file sent along with a message. A non-empty ContentID makes
// it an inline part referenced from the HTML body as cid:<ContentID>.
type Attachment struct {
	Filename    string `json:"filename" yaml:"filename"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type"`
	ContentID   string `json:"content_id,omitempty" yaml:"content_id"`
	Path        string `json:"path,omitempty" yaml:"path"`
	Content     []byte `json:"-" yaml:"-"`
}

// Inline reports whether the attachment is embedded in the HTML body.
func (a Attachment) Inline() bool {
	return a.ContentID != ""
}

// CampaignConfig is everything a run needs besides the recipient list.
// It is handed over as a whole when the campaign starts and never mutated.
type CampaignConfig struct {
	SenderEmail      string       `json:"sender_email" yaml:"sender_email"`
	SenderCredential string       `json:"-" yaml:"password"`
	SubjectTemplate  string       `json:"subject" yaml:"subject"`
	BodyTemplate     string       `json:"body_html" yaml:"body_html"`
	FooterTemplate   string       `json:"footer_html" yaml:"footer_html"`
	Logo             *Attachment  `json:"logo,omitempty" yaml:"logo"`
	Flyer            *Attachment  `json:"flyer,omitempty" yaml:"flyer"`
	Folder1          []Attachment `json:"folder1,omitempty" yaml:"folder1"`
	Folder2          []Attachment `json:"folder2,omitempty" yaml:"folder2"`
}

// FolderAttachments returns the per-recipient files for the given ordinal,
// one from each folder set when that set is long enough.
func (c CampaignConfig) FolderAttachments(ordinal int) []Attachment {
	var out []Attachment
	if ordinal >= 0 && ordinal < len(c.Folder1) {
		out = append(out, c.Folder1[ordinal])
	}
	if ordinal >= 0 && ordinal < len(c.Folder2) {
		out = append(out, c.Folder2[ordinal])
	}
	return out
}

// FolderNames returns the filenames FolderAttachments would pick, with empty
// strings for missing entries.
func (c CampaignConfig) FolderNames(ordinal int) (string, string) {
	var first, second string
	if ordinal >= 0 && ordinal < len(c.Folder1) {
		first = c.Folder1[ordinal].Filename
	}
	if ordinal >= 0 && ordinal < len(c.Folder2) {
		second = c.Folder2[ordinal].Filename
	}
	return first, second
}

// Campaign is the persisted header of a run.
type Campaign struct {
	ID          string     `db:"id" json:"id"`
	SenderEmail string     `db:"sender_email" json:"sender_email"`
	Subject     string     `db:"subject" json:"subject"`
	Phase       Phase      `db:"phase" json:"phase"`
	Total       int        `db:"total" json:"total"`
	AbortReason string     `db:"abort_reason" json:"abort_reason,omitempty"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// Counts tallies recipient states of a run.
type Counts struct {
	Pending  int `json:"pending"`
	Retrying int `json:"retrying"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Resolved is the number of recipients with a terminal outcome.
func (c Counts) Resolved() int {
	return c.Sent + c.Failed + c.Skipped
}

// CampaignStatus is what the controller reports about the current run.
type CampaignStatus struct {
	CampaignID  string     `json:"campaign_id,omitempty"`
	Phase       Phase      `json:"phase"`
	Total       int        `json:"total"`
	Counts      Counts     `json:"counts"`
	AbortReason string     `json:"abort_reason,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
