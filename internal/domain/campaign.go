package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a newsletter campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusSent      CampaignStatus = "sent"
	CampaignStatusFailed    CampaignStatus = "failed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusSending, CampaignStatusSent, CampaignStatusFailed:
		return true
	}
	return false
}

func ParseCampaignStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

// CanSchedule reports whether a campaign in this status may be (re)scheduled.
// A running dispatch cannot be rescheduled; it has to finish first.
func (s CampaignStatus) CanSchedule() bool {
	return s != CampaignStatusSent && s != CampaignStatusSending
}

// CanSendNow reports whether a dispatch run may start from this status.
func (s CampaignStatus) CanSendNow() bool {
	return s != CampaignStatusSent && s != CampaignStatusSending
}

// SendNowError returns the guard error for a status that cannot start a dispatch.
func (s CampaignStatus) SendNowError() error {
	switch s {
	case CampaignStatusSent:
		return ErrAlreadySent
	case CampaignStatusSending:
		return ErrAlreadySending
	}
	return nil
}

// Campaign is one newsletter send tied to a template, an optional topic and
// optionally the post whose publication triggered it.
type Campaign struct {
	ID              string
	Subject         string
	TemplateID      string
	TopicID         *string
	PostID          *string
	PostType        *PostType
	Status          CampaignStatus
	ScheduledAt     *time.Time
	SentAt          *time.Time
	TotalRecipients int
	LastError       *string
	DispatchAttempt int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPost reports whether the campaign references a post by both id and type.
func (c *Campaign) HasPost() bool {
	return c.PostID != nil && strings.TrimSpace(*c.PostID) != "" && c.PostType != nil
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(c.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, c.Status)
	}
	if c.PostType != nil && !c.PostType.IsValid() {
		return fmt.Errorf("%w: invalid post type %q", ErrValidation, *c.PostType)
	}
	return nil
}

// Outcome is the terminal result of a dispatch run.
type Outcome struct {
	Status    CampaignStatus
	LastError *string
}

// FinalizeOutcome computes the terminal status of a dispatch run from its
// per-recipient results. A run only fails when every recipient failed and
// there was at least one recipient.
func FinalizeOutcome(total, failed int, firstError string) Outcome {
	if failed <= 0 {
		return Outcome{Status: CampaignStatusSent}
	}

	summary := fmt.Sprintf("Failed to send to %d recipients.", failed)
	if msg := strings.TrimSpace(firstError); msg != "" {
		summary = fmt.Sprintf("%s First error: %s", summary, msg)
	}

	if total > 0 && failed >= total {
		return Outcome{Status: CampaignStatusFailed, LastError: &summary}
	}
	return Outcome{Status: CampaignStatusSent, LastError: &summary}
}
