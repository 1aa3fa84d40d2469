package domain

import (
	"fmt"
	"strings"
	"time"
)

// LogStatus is the delivery outcome of one recipient in one dispatch run.
type LogStatus string

const (
	LogStatusSent   LogStatus = "sent"
	LogStatusFailed LogStatus = "failed"
)

func (s LogStatus) String() string { return string(s) }

func ParseLogStatusFromString(s string) (LogStatus, error) {
	st := LogStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case LogStatusSent, LogStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: invalid log status %q", ErrValidation, s)
}

// CampaignLog records a single delivery attempt for one subscriber.
// Rows are append-only; OpenedAt/ClickedAt are filled by tracking.
type CampaignLog struct {
	ID           string
	CampaignID   string
	SubscriberID string
	Attempt      int
	Status       LogStatus
	ErrorMessage *string
	OpenedAt     *time.Time
	ClickedAt    *time.Time
	CreatedAt    time.Time
}

// LogCounts aggregates the log rows of one dispatch run.
type LogCounts struct {
	Sent       int
	Failed     int
	FirstError string
}
