package handler

import (
	"sync"

	"github.com/mezamarco14/resu-sistem/internal/model"
)

// Draft holds the recipient list uploaded for the next campaign.
type Draft struct {
	mu         sync.RWMutex
	recipients []model.Recipient

	// files serialises stored file changes with campaign starts.
	files sync.Mutex
}

func NewDraft() *Draft {
	return &Draft{}
}

// SetRecipients replaces the uploaded list.
func (d *Draft) SetRecipients(recipients []model.Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recipients = append([]model.Recipient(nil), recipients...)
}

// Recipients returns a copy of the uploaded list.
func (d *Draft) Recipients() []model.Recipient {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Recipient(nil), d.recipients...)
}

func (d *Draft) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recipients = nil
}

// Exclusive runs fn while no file upload or campaign start is in progress.
func (d *Draft) Exclusive(fn func() error) error {
	d.files.Lock()
	defer d.files.Unlock()
	return fn()
}
