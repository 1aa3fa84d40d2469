package queue

import (
	"fmt"
	"strings"
)

// DispatchReason records what started a dispatch run.
type DispatchReason string

const (
	ReasonManual    DispatchReason = "manual"
	ReasonScheduled DispatchReason = "scheduled"
	ReasonPublished DispatchReason = "published"
)

// DispatchMessage asks a worker to run the dispatch of one campaign. Attempt
// is the campaign's dispatch attempt at enqueue time; a worker that finds a
// different attempt on the campaign drops the message as stale.
type DispatchMessage struct {
	CampaignID    string         `json:"campaignId"`
	Attempt       int            `json:"attempt"`
	Reason        DispatchReason `json:"reason,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	if m.Attempt < 1 {
		return fmt.Errorf("attempt must be positive, got %d", m.Attempt)
	}
	return nil
}
