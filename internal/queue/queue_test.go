package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeAcknowledger struct {
	acked    int
	nacked   int
	requeued bool
	rejected int
}

func (f *fakeAcknowledger) Ack(bool) error { f.acked++; return nil }
func (f *fakeAcknowledger) Nack(_ bool, requeue bool) error {
	f.nacked++
	f.requeued = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(bool) error { f.rejected++; return nil }

func mustBody(t *testing.T, msg DispatchMessage) []byte {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return body
}

func TestDispatchMessageValidate(t *testing.T) {
	t.Parallel()

	msg := DispatchMessage{CampaignID: "c1", Attempt: 1}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.CampaignID = " "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty campaign id")
	}

	msg.CampaignID = "c1"
	msg.Attempt = 0
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for zero attempt")
	}
}

func TestNewPublishing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	p, err := newPublishing(DispatchMessage{CampaignID: "c1", Attempt: 2, Reason: ReasonScheduled, CorrelationID: "corr"}, now)
	if err != nil {
		t.Fatalf("newPublishing() error = %v", err)
	}

	if p.DeliveryMode != amqp.Persistent {
		t.Fatalf("DeliveryMode = %d, want persistent", p.DeliveryMode)
	}
	if p.MessageId != "c1:2" || p.CorrelationId != "corr" || p.Type != "scheduled" {
		t.Fatalf("publishing = %+v", p)
	}

	var decoded DispatchMessage
	if err := json.Unmarshal(p.Body, &decoded); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if decoded.CampaignID != "c1" || decoded.Attempt != 2 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestDispatchQueueArgsRouteToDLX(t *testing.T) {
	t.Parallel()

	args := dispatchQueueArgs()
	if args["x-dead-letter-exchange"] != dlxExchangeName {
		t.Fatalf("x-dead-letter-exchange = %v", args["x-dead-letter-exchange"])
	}
	if args["x-dead-letter-routing-key"] != dispatchRoutingKey {
		t.Fatalf("x-dead-letter-routing-key = %v", args["x-dead-letter-routing-key"])
	}
}

func TestSettleAcksHandledMessage(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(&RabbitMQ{}, 1, nil)
	ack := &fakeAcknowledger{}

	var got DispatchMessage
	err := c.settle(context.Background(), delivery{body: mustBody(t, DispatchMessage{CampaignID: "c1", Attempt: 1}), ack: ack},
		func(_ context.Context, msg DispatchMessage) error {
			got = msg
			return nil
		})
	if err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if ack.acked != 1 || got.CampaignID != "c1" {
		t.Fatalf("acked = %d, msg = %+v", ack.acked, got)
	}
}

func TestSettleRejectsMalformedMessages(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	c := NewRabbitMQConsumer(&RabbitMQ{}, 1, zap.New(core))

	for _, body := range [][]byte{[]byte("{"), mustBody(t, DispatchMessage{Attempt: 1})} {
		ack := &fakeAcknowledger{}
		err := c.settle(context.Background(), delivery{body: body, ack: ack}, func(context.Context, DispatchMessage) error {
			t.Error("handler must not run for a malformed message")
			return nil
		})
		if err != nil {
			t.Fatalf("settle() error = %v", err)
		}
		if ack.rejected != 1 {
			t.Fatalf("rejected = %d, want 1", ack.rejected)
		}
	}
	if logs.Len() != 2 {
		t.Fatalf("warn logs = %d, want 2", logs.Len())
	}
}

func TestSettleRequeuesOnceThenDeadLetters(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(&RabbitMQ{}, 1, nil)
	failing := func(context.Context, DispatchMessage) error { return errors.New("db unavailable") }
	body := mustBody(t, DispatchMessage{CampaignID: "c1", Attempt: 1})

	first := &fakeAcknowledger{}
	if err := c.settle(context.Background(), delivery{body: body, ack: first}, failing); err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if first.nacked != 1 || !first.requeued {
		t.Fatalf("first delivery nacked = %d requeue = %v, want requeue", first.nacked, first.requeued)
	}

	second := &fakeAcknowledger{}
	if err := c.settle(context.Background(), delivery{body: body, redelivered: true, ack: second}, failing); err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if second.nacked != 1 || second.requeued {
		t.Fatalf("redelivery nacked = %d requeue = %v, want dead-letter", second.nacked, second.requeued)
	}
}
