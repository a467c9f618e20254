// Package mailtest provides an in-memory mail.Transport for tests.
package mailtest

import (
	"context"
	"sync"
	"time"

	"github.com/mezamarco14/resu-sistem/internal/mail"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

// Transport records every message and replays scripted errors per recipient.
type Transport struct {
	// ConnectErr is returned by Connect when set.
	ConnectErr error
	// Delay is applied to every Send.
	Delay time.Duration
	// Gate, when non-nil, blocks every Send until it is closed.
	Gate chan struct{}

	mu       sync.Mutex
	script   map[string][]error
	attempts map[string]int
	sent     []mail.Message
	connects int
	open     int
	maxOpen  int
	sessions int
}

func NewTransport() *Transport {
	return &Transport{
		script:   make(map[string][]error),
		attempts: make(map[string]int),
	}
}

// Fail makes the first len(errs) sends to email return errs in order. A nil
// entry is a success.
func (t *Transport) Fail(email string, errs ...error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script[model.NormalizeEmail(email)] = errs
	return t
}

func (t *Transport) Connect(ctx context.Context, sender, credential string) (mail.Client, error) {
	t.mu.Lock()
	t.connects++
	t.mu.Unlock()

	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	return &client{t: t}, nil
}

type client struct {
	t *Transport
}

func (c *client) Session(ctx context.Context) (mail.Session, error) {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()

	c.t.sessions++
	c.t.open++
	if c.t.open > c.t.maxOpen {
		c.t.maxOpen = c.t.open
	}
	return &session{t: c.t}, nil
}

func (c *client) Close() error { return nil }

type session struct {
	t      *Transport
	closed bool
}

func (s *session) Send(ctx context.Context, msg *mail.Message) error {
	if s.t.Gate != nil {
		select {
		case <-s.t.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.t.Delay > 0 {
		select {
		case <-time.After(s.t.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	key := model.NormalizeEmail(msg.To)

	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	s.t.attempts[key]++
	n := s.t.attempts[key]
	if script := s.t.script[key]; n <= len(script) && script[n-1] != nil {
		return script[n-1]
	}
	s.t.sent = append(s.t.sent, *msg)
	return nil
}

func (s *session) Close() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.t.open--
	}
	return nil
}

// Sent returns the successfully delivered messages.
func (t *Transport) Sent() []mail.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]mail.Message(nil), t.sent...)
}

// Attempts is the number of Send calls made for an address.
func (t *Transport) Attempts(email string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[model.NormalizeEmail(email)]
}

// TotalAttempts is the number of Send calls made overall.
func (t *Transport) TotalAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, n := range t.attempts {
		total += n
	}
	return total
}

func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// MaxOpenSessions is the highest number of sessions open at the same time.
func (t *Transport) MaxOpenSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxOpen
}

// OpenSessions is the number of sessions not yet closed.
func (t *Transport) OpenSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}
