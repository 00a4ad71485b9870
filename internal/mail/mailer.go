package mail

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Mailer is the outbound delivery capability. Real transport lives outside
// this service; anything implementing Send can be plugged in.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer is the development implementation: it records that a mail would
// have been sent without delivering anything. Recipients are masked and the
// body is never logged.
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.log.Info("mail dispatched",
		zap.String("to", MaskEmail(to)),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}

// MaskEmail masks the local part of an address for logging (e.g. ab****@acme.com).
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 2 {
		return "****" + email[max(at, 0):]
	}
	return email[:2] + strings.Repeat("*", at-2) + email[at:]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
