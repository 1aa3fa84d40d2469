// Package audience resolves the recipients of a campaign.
package audience

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
)

// SubscriberSource lists subscribers that are subscribed and verified,
// optionally restricted to one topic, in insertion order.
type SubscriberSource interface {
	ListEligible(ctx context.Context, topicID *string) ([]domain.Subscriber, error)
}

type Resolver struct {
	source SubscriberSource
}

func NewResolver(source SubscriberSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns every subscriber eligible for campaign. A campaign without
// a topic is broadcast to all eligible subscribers. Rows the store returns
// that do not satisfy the eligibility predicate are dropped.
func (r *Resolver) Resolve(ctx context.Context, campaign domain.Campaign) ([]domain.Subscriber, error) {
	topicID := campaign.TopicID
	if topicID != nil && *topicID == "" {
		topicID = nil
	}

	candidates, err := r.source.ListEligible(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("list eligible subscribers: %w", err)
	}

	recipients := make([]domain.Subscriber, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, sub := range candidates {
		if !sub.EligibleFor(topicID) {
			continue
		}
		if _, dup := seen[sub.ID]; dup {
			continue
		}
		seen[sub.ID] = struct{}{}
		recipients = append(recipients, sub)
	}
	return recipients, nil
}
