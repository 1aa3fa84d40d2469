package queue

import "context"

const (
	// DispatchQueue carries one message per campaign dispatch run.
	DispatchQueue = "newsletter.dispatch"
	// DispatchDLQ receives messages the worker gave up on.
	DispatchDLQ = "newsletter.dispatch.dlq"

	dlxExchangeName    = "newsletter.dlx"
	dispatchRoutingKey = "dispatch"
)

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed dispatch message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
