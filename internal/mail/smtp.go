package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/logger"
)

// SMTPConfig overrides the provider server inferred from the sender address.
type SMTPConfig struct {
	Host               string
	Port               int
	RequireTLS         bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	LocalName          string
}

type server struct {
	host string
	port int
}

var providerServers = map[string]server{
	"gmail.com":      {"smtp.gmail.com", 465},
	"googlemail.com": {"smtp.gmail.com", 465},
	"outlook.com":    {"smtp-mail.outlook.com", 587},
	"hotmail.com":    {"smtp-mail.outlook.com", 587},
	"live.com":       {"smtp-mail.outlook.com", 587},
	"yahoo.com":      {"smtp.mail.yahoo.com", 465},
	"upt.edu.pe":     {"smtp.upt.edu.pe", 587},
}

// ResolveServer picks the SMTP server for a sender address from its domain.
// Unknown domains use smtp.<domain>:587.
func ResolveServer(sender string) (string, int) {
	domain := Domain(sender)
	if s, ok := providerServers[domain]; ok {
		return s.host, s.port
	}
	for d, s := range providerServers {
		if strings.HasSuffix(domain, "."+d) {
			return s.host, s.port
		}
	}
	return "smtp." + domain, 587
}

// SMTPTransport sends through an authenticated SMTP server. Port 465 uses
// implicit TLS, other ports upgrade with STARTTLS when the server offers it.
type SMTPTransport struct {
	cfg SMTPConfig
	log *logger.Logger
}

func NewSMTPTransport(cfg SMTPConfig, log *logger.Logger) *SMTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SMTPTransport{cfg: cfg, log: log.WithComponent("smtp")}
}

func (t *SMTPTransport) Connect(ctx context.Context, sender, credential string) (Client, error) {
	host, port := ResolveServer(sender)
	if t.cfg.Host != "" {
		host = t.cfg.Host
	}
	if t.cfg.Port != 0 {
		port = t.cfg.Port
	}

	c := &smtpClient{
		cfg:        t.cfg,
		host:       host,
		port:       port,
		sender:     sender,
		credential: credential,
		log:        t.log,
	}

	s, err := c.dial(ctx)
	if err != nil {
		var auth *appErrors.AuthenticationError
		if errors.As(err, &auth) {
			return nil, err
		}
		return nil, appErrors.NewFatal(fmt.Errorf("connect %s:%d: %w", host, port, err))
	}
	s.Close()

	t.log.Info().Str("host", host).Int("port", port).Str("sender", sender).Msg("smtp credentials verified")
	return c, nil
}

type smtpClient struct {
	cfg        SMTPConfig
	host       string
	port       int
	sender     string
	credential string
	log        *logger.Logger
}

func (c *smtpClient) Session(ctx context.Context) (Session, error) {
	s, err := c.dial(ctx)
	if err != nil {
		var auth *appErrors.AuthenticationError
		if errors.As(err, &auth) {
			// credential revoked after the campaign started
			return nil, appErrors.NewFatal(err)
		}
		return nil, appErrors.NewTransient(err)
	}
	return s, nil
}

func (c *smtpClient) Close() error { return nil }

func (c *smtpClient) dial(ctx context.Context) (*smtpSession, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: c.host, InsecureSkipVerify: c.cfg.InsecureSkipVerify}

	var (
		conn net.Conn
		err  error
	)
	if c.port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Now().Add(c.cfg.Timeout))

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if c.cfg.LocalName != "" {
		if err := client.Hello(c.cfg.LocalName); err != nil {
			client.Close()
			return nil, err
		}
	}

	if c.port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, err
			}
		} else if c.cfg.RequireTLS {
			client.Close()
			return nil, fmt.Errorf("server %s does not support STARTTLS", addr)
		}
	}

	if c.credential != "" {
		if err := client.Auth(smtp.PlainAuth("", c.sender, c.credential, c.host)); err != nil {
			client.Close()
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) && tpErr.Code/100 == 4 {
				return nil, err
			}
			return nil, appErrors.NewAuthenticationError(c.sender, err)
		}
	}

	return &smtpSession{client: client, conn: conn, sender: c.sender, timeout: c.cfg.Timeout}, nil
}

type smtpSession struct {
	client  *smtp.Client
	conn    net.Conn
	sender  string
	timeout time.Duration
}

// Send runs one MAIL/RCPT/DATA transaction. Errors are classified by the
// stage they happened in.
func (s *smtpSession) Send(ctx context.Context, msg *Message) error {
	if err := ValidateAddress(msg.To); err != nil {
		return err
	}

	raw, err := BuildMIME(msg, time.Now())
	if err != nil {
		return appErrors.NewPermanent(msg.To, err)
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { s.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := s.client.Mail(s.sender); err != nil {
		s.client.Reset()
		return classifySMTP(err, stageMail, msg.To)
	}
	if err := s.client.Rcpt(msg.To); err != nil {
		s.client.Reset()
		return classifySMTP(err, stageRcpt, msg.To)
	}
	w, err := s.client.Data()
	if err != nil {
		s.client.Reset()
		return classifySMTP(err, stageData, msg.To)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return classifySMTP(err, stageData, msg.To)
	}
	if err := w.Close(); err != nil {
		return classifySMTP(err, stageData, msg.To)
	}
	return nil
}

func (s *smtpSession) Close() error {
	s.conn.SetDeadline(time.Now().Add(time.Second))
	if err := s.client.Quit(); err != nil {
		return s.client.Close()
	}
	return nil
}

type stage int

const (
	stageMail stage = iota
	stageRcpt
	stageData
)

var quotaMarkers = []string{"quota", "limit exceeded", "sending limit", "too many messages"}

func classifySMTP(err error, st stage, email string) error {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		// dropped connections, timeouts, resets
		return appErrors.NewTransient(err)
	}

	text := strings.ToLower(tpErr.Msg)
	for _, marker := range quotaMarkers {
		if strings.Contains(text, marker) && tpErr.Code/100 == 5 {
			return appErrors.NewFatal(err)
		}
	}

	switch {
	case tpErr.Code == 530 || tpErr.Code == 534 || tpErr.Code == 535:
		return appErrors.NewFatal(appErrors.NewAuthenticationError("", err))
	case tpErr.Code/100 == 4:
		return appErrors.NewTransient(err)
	case st == stageRcpt:
		return appErrors.NewInvalidRecipient(email, err)
	case st == stageMail:
		return appErrors.NewFatal(err)
	}
	return appErrors.NewPermanent(email, err)
}
