package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gomail "github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"github.com/replydesk/internal/actions"
	"github.com/replydesk/internal/retry"
)

// SMTPConfig holds the outbound relay settings.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	RatePerMinute int
}

// SMTPResponder delivers replies through an authenticated STARTTLS relay.
type SMTPResponder struct {
	cfg     SMTPConfig
	limiter *rate.Limiter
	policy  retry.Policy
	dialer  func(ctx context.Context, msg *gomail.Msg) error
}

// NewSMTPResponder creates a responder. Sends are spaced to RatePerMinute
// and transient failures retried per policy.
func NewSMTPResponder(cfg SMTPConfig, policy retry.Policy) (*SMTPResponder, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}

	client, err := gomail.NewClient(cfg.Host,
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSMandatory),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
		gomail.WithTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	r := &SMTPResponder{
		cfg:     cfg,
		limiter: newLimiter(cfg.RatePerMinute),
		policy:  policy,
	}
	r.dialer = func(ctx context.Context, msg *gomail.Msg) error {
		return client.DialAndSendWithContext(ctx, msg)
	}
	return r, nil
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Send implements actions.Responder.
func (r *SMTPResponder) Send(ctx context.Context, to, subject, body string) error {
	msg, err := r.compose(to, subject, body)
	if err != nil {
		return &actions.DeliveryError{To: to, Err: err}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return &actions.DeliveryError{To: to, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	logger := log.With().Str("component", "smtp").Str("to", to).Logger()
	result := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		err := r.dialer(ctx, msg)
		if err != nil && !retry.IsRetryableError(err) && !isTemporarySendError(err) {
			return retry.Permanent(err)
		}
		return err
	}, &logger)

	if err := result.Err(); err != nil {
		return &actions.DeliveryError{To: to, Err: err}
	}

	logger.Info().Str("subject", subject).Int("attempts", result.Attempts).Msg("Reply delivered")
	return nil
}

func (r *SMTPResponder) compose(to, subject, body string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(r.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", r.cfg.From, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, body)
	return msg, nil
}

func isTemporarySendError(err error) bool {
	var sendErr *gomail.SendError
	return errors.As(err, &sendErr) && sendErr.IsTemp()
}

// LogResponder logs replies instead of sending them. Used for dry runs.
type LogResponder struct {
	logger zerolog.Logger
}

// NewLogResponder creates a responder that writes to the global logger.
func NewLogResponder() *LogResponder {
	return &LogResponder{logger: log.With().Str("component", "dry-run").Logger()}
}

func (l *LogResponder) Send(_ context.Context, to, subject, body string) error {
	l.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("Dry run: reply not sent")
	return nil
}

var (
	_ actions.Responder = (*SMTPResponder)(nil)
	_ actions.Responder = (*LogResponder)(nil)
)
