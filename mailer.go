package authgate

import (
	"context"
	"log"
)

// Mail is a single outbound message the engine asks the Mailer to deliver.
// Token carries the plaintext verification or reset secret; the engine only
// ever persists its hash.
type Mail struct {
	To      string
	Subject string
	Token   string
	// Kind is "verification" or "password_reset".
	Kind string
}

// Mailer delivers engine-generated mail. Implementations own templating and
// transport; the engine hands over the recipient and the plaintext token and
// nothing else.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// LogMailer writes outbound mail to the process log. Intended for development
// and tests only: it prints plaintext tokens.
type LogMailer struct{}

// Send describes the send operation and its observable behavior.
//
// Send may return an error when input validation, dependency calls, or security checks fail.
// Send does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (LogMailer) Send(ctx context.Context, mail Mail) error {
	log.Printf("authgate: mail %s to=%s subject=%q token=%s", mail.Kind, mail.To, mail.Subject, mail.Token)
	return nil
}
