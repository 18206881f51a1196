package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// Notifier delivers one event to the outside world.
type Notifier interface {
	Notify(ctx context.Context, ev models.Event) error
}

// LogNotifier writes rendered notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier backed by logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the event subject.
func (n *LogNotifier) Notify(_ context.Context, ev models.Event) error {
	msg, err := Render(ev)
	if err != nil {
		return err
	}
	n.logger.Info("notification",
		"incident_id", ev.IncidentID,
		"kind", ev.Kind,
		"stage", ev.Stage,
		"subject", msg.Subject,
	)
	return nil
}

// ErrSMTPNotConfigured is returned when sender, password or recipients are
// missing.
var ErrSMTPNotConfigured = errors.New("notify: smtp not configured")

// SMTPConfig holds mail delivery settings.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	To       []string
	Timeout  time.Duration
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends plain-text email through an SMTP relay.
type SMTPNotifier struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewSMTPNotifier validates cfg and returns a mail notifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.From == "" || cfg.Password == "" || len(cfg.To) == 0 || cfg.Host == "" {
		return nil, ErrSMTPNotConfigured
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPNotifier{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}, nil
}

// Notify renders ev and hands it to the relay. The context deadline bounds
// how long the caller waits; the SMTP exchange itself is not interruptible.
func (n *SMTPNotifier) Notify(ctx context.Context, ev models.Event) error {
	msg, err := Render(ev)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	auth := smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	payload := n.compose(msg)

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- n.sendMail(addr, auth, n.cfg.From, n.cfg.To, payload)
	}()
	select {
	case err := <-done:
		if err != nil {
			return utils.NewAppError("notify.SMTPNotifier", "send "+string(ev.Kind), err)
		}
		return nil
	case <-ctx.Done():
		return utils.NewAppError("notify.SMTPNotifier", "send "+string(ev.Kind), ctx.Err())
	}
}

func (n *SMTPNotifier) compose(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// MultiNotifier fans an event out to several notifiers.
type MultiNotifier []Notifier

// Notify calls every notifier and joins their errors.
func (m MultiNotifier) Notify(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
