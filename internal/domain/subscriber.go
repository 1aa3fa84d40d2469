package domain

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"
)

// Subscriber is an email address with subscription, verification and topic state.
type Subscriber struct {
	ID                string
	Email             string
	Name              *string
	Subscribed        bool
	VerifiedAt        *time.Time
	Token             string
	Locale            string
	UnsubscribeReason *string
	TopicIDs          []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsVerified reports whether the subscriber redeemed their verification token.
func (s *Subscriber) IsVerified() bool {
	return s.VerifiedAt != nil
}

// EligibleFor reports whether the subscriber belongs to the audience of a
// campaign restricted to topicID (nil means no topic restriction).
func (s *Subscriber) EligibleFor(topicID *string) bool {
	if !s.Subscribed || s.VerifiedAt == nil {
		return false
	}
	if topicID == nil {
		return true
	}
	return slices.Contains(s.TopicIDs, *topicID)
}

// DisplayName returns the subscriber name or fallback when it is empty.
func (s *Subscriber) DisplayName(fallback string) string {
	if s.Name == nil || strings.TrimSpace(*s.Name) == "" {
		return fallback
	}
	return *s.Name
}

// NormalizeEmail lower-cases and validates an email address.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("%w: invalid email %q", ErrValidation, raw)
	}
	return trimmed, nil
}
