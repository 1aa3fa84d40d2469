// Package mailer delivers rendered newsletter emails through the mail
// transport selected at start-up.
package mailer

import "context"

// Mailer sends one HTML email to one recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
