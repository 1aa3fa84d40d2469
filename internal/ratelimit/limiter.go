package ratelimit

import "context"

// BucketEmail is the bucket every outgoing newsletter mail is counted in.
const BucketEmail = "email"

// RateLimiter throttles outgoing sends per bucket.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}
