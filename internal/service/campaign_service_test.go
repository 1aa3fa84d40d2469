package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/observability"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func newTestCampaignService(t *testing.T, campaigns *fakeCampaignRepo, templates *fakeTemplateRepo, topics *fakeTopicRepo, publisher *fakePublisher) *CampaignService {
	t.Helper()

	svc, err := NewCampaignService(campaigns, &memLogRepo{}, templates, topics, publisher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCampaignService() error = %v", err)
	}
	return svc
}

func existingTemplate() *fakeTemplateRepo {
	return &fakeTemplateRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Template, error) {
			return &domain.Template{ID: id, Name: "New Post", Content: "<p>{{title}}</p>"}, nil
		},
	}
}

func TestCampaignServiceCreateDraft(t *testing.T) {
	t.Parallel()

	var stored *domain.Campaign
	campaigns := &fakeCampaignRepo{
		createFn: func(ctx context.Context, c *domain.Campaign) error {
			stored = c
			return nil
		},
	}
	topics := &fakeTopicRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Topic, error) {
			return &domain.Topic{ID: id, Slug: "blog"}, nil
		},
	}
	svc := newTestCampaignService(t, campaigns, existingTemplate(), topics, &fakePublisher{})

	campaign, err := svc.Create(context.Background(), CreateCampaignInput{
		Subject:    "  Weekly digest ",
		TemplateID: "tpl-1",
		TopicID:    strPtr("topic-blog"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if stored == nil || stored.ID != campaign.ID {
		t.Fatal("campaign was not persisted")
	}
	if campaign.Status != domain.CampaignStatusDraft {
		t.Fatalf("status = %s, want draft", campaign.Status)
	}
	if campaign.Subject != "Weekly digest" {
		t.Fatalf("subject = %q, want trimmed subject", campaign.Subject)
	}
	if campaign.TopicID == nil || *campaign.TopicID != "topic-blog" {
		t.Fatalf("topic = %v, want topic-blog", campaign.TopicID)
	}
}

func TestCampaignServiceCreateValidation(t *testing.T) {
	t.Parallel()

	blog := domain.PostTypeBlog
	tests := []struct {
		name  string
		input CreateCampaignInput
		tpls  *fakeTemplateRepo
	}{
		{name: "missing subject", input: CreateCampaignInput{TemplateID: "tpl-1"}, tpls: existingTemplate()},
		{name: "missing template id", input: CreateCampaignInput{Subject: "s"}, tpls: existingTemplate()},
		{name: "unknown template", input: CreateCampaignInput{Subject: "s", TemplateID: "nope"}, tpls: &fakeTemplateRepo{}},
		{name: "unknown topic", input: CreateCampaignInput{Subject: "s", TemplateID: "tpl-1", TopicID: strPtr("nope")}, tpls: existingTemplate()},
		{name: "post type without id", input: CreateCampaignInput{Subject: "s", TemplateID: "tpl-1", PostType: &blog}, tpls: existingTemplate()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			campaigns := &fakeCampaignRepo{
				createFn: func(ctx context.Context, c *domain.Campaign) error {
					t.Fatal("Create should not be called")
					return nil
				},
			}
			svc := newTestCampaignService(t, campaigns, tt.tpls, &fakeTopicRepo{}, &fakePublisher{})

			_, err := svc.Create(context.Background(), tt.input)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Create() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCampaignServiceScheduleRequiresTime(t *testing.T) {
	t.Parallel()

	svc := newTestCampaignService(t, &fakeCampaignRepo{}, existingTemplate(), &fakeTopicRepo{}, &fakePublisher{})
	if _, err := svc.Schedule(context.Background(), "c1", time.Time{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Schedule() error = %v, want ErrValidation", err)
	}
}

func TestCampaignServiceScheduleSentCampaign(t *testing.T) {
	t.Parallel()

	campaigns := &fakeCampaignRepo{
		scheduleFn: func(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
			return nil, domain.ErrAlreadySent
		},
	}
	svc := newTestCampaignService(t, campaigns, existingTemplate(), &fakeTopicRepo{}, &fakePublisher{})

	_, err := svc.Schedule(context.Background(), "c1", time.Now().Add(time.Hour))
	if !errors.Is(err, domain.ErrAlreadySent) || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Schedule() error = %v, want ErrAlreadySent", err)
	}
}

func TestCampaignServiceSendNowEnqueues(t *testing.T) {
	t.Parallel()

	campaigns := &fakeCampaignRepo{
		markSendingFn: func(ctx context.Context, id string) (*domain.Campaign, error) {
			return &domain.Campaign{ID: id, Status: domain.CampaignStatusSending, DispatchAttempt: 3}, nil
		},
		finalizeFn: func(ctx context.Context, id string, outcome domain.Outcome, sentAt *time.Time) error {
			t.Fatal("Finalize should not be called")
			return nil
		},
	}

	var gotQueue string
	var gotMsg queue.DispatchMessage
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
			gotQueue = queueName
			gotMsg = msg
			return nil
		},
	}
	svc := newTestCampaignService(t, campaigns, existingTemplate(), &fakeTopicRepo{}, publisher)
	metrics := observability.NewMetrics()
	svc.SetMetrics(metrics)

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	campaign, err := svc.SendNow(ctx, "c1")
	if err != nil {
		t.Fatalf("SendNow() error = %v", err)
	}
	if campaign.Status != domain.CampaignStatusSending {
		t.Fatalf("status = %s, want sending", campaign.Status)
	}
	if gotQueue != queue.DispatchQueue {
		t.Fatalf("queue = %q, want %q", gotQueue, queue.DispatchQueue)
	}
	want := queue.DispatchMessage{CampaignID: "c1", Attempt: 3, Reason: queue.ReasonManual, CorrelationID: "corr-1"}
	if gotMsg != want {
		t.Fatalf("message = %+v, want %+v", gotMsg, want)
	}
	expected := `
# HELP newsletter_campaigns_enqueued_total Dispatch runs handed to the queue by reason.
# TYPE newsletter_campaigns_enqueued_total counter
newsletter_campaigns_enqueued_total{reason="manual"} 1
`
	if err := testutil.GatherAndCompare(metrics.Gatherer(), strings.NewReader(expected), "newsletter_campaigns_enqueued_total"); err != nil {
		t.Fatalf("campaigns_enqueued_total mismatch: %v", err)
	}
}

func TestCampaignServiceSendNowGuards(t *testing.T) {
	t.Parallel()

	for _, guard := range []error{domain.ErrAlreadySending, domain.ErrAlreadySent} {
		campaigns := &fakeCampaignRepo{
			markSendingFn: func(ctx context.Context, id string) (*domain.Campaign, error) {
				return nil, guard
			},
		}
		publisher := &fakePublisher{
			publishFn: func(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
				t.Fatal("Publish should not be called")
				return nil
			},
		}
		svc := newTestCampaignService(t, campaigns, existingTemplate(), &fakeTopicRepo{}, publisher)

		if _, err := svc.SendNow(context.Background(), "c1"); !errors.Is(err, guard) {
			t.Fatalf("SendNow() error = %v, want %v", err, guard)
		}
	}
}

func TestCampaignServiceSendNowPublishFailureMarksFailed(t *testing.T) {
	t.Parallel()

	var gotOutcome domain.Outcome
	var gotSentAt *time.Time
	finalized := false
	campaigns := &fakeCampaignRepo{
		markSendingFn: func(ctx context.Context, id string) (*domain.Campaign, error) {
			return &domain.Campaign{ID: id, Status: domain.CampaignStatusSending, DispatchAttempt: 1}, nil
		},
		finalizeFn: func(ctx context.Context, id string, outcome domain.Outcome, sentAt *time.Time) error {
			finalized = true
			gotOutcome = outcome
			gotSentAt = sentAt
			return nil
		},
	}
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
			return errors.New("broker down")
		},
	}
	svc := newTestCampaignService(t, campaigns, existingTemplate(), &fakeTopicRepo{}, publisher)

	_, err := svc.SendNow(context.Background(), "c1")
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("SendNow() error = %v, want broker error", err)
	}
	if !finalized {
		t.Fatal("campaign was not finalized after publish failure")
	}
	if gotOutcome.Status != domain.CampaignStatusFailed {
		t.Fatalf("status = %s, want failed", gotOutcome.Status)
	}
	if gotOutcome.LastError == nil || !strings.HasPrefix(*gotOutcome.LastError, "failed to enqueue dispatch: ") {
		t.Fatalf("last_error = %v, want enqueue failure", gotOutcome.LastError)
	}
	if gotSentAt != nil {
		t.Fatalf("sent_at = %v, want unset", gotSentAt)
	}
}

func TestCampaignServiceListLogsUnknownCampaign(t *testing.T) {
	t.Parallel()

	svc := newTestCampaignService(t, &fakeCampaignRepo{}, existingTemplate(), &fakeTopicRepo{}, &fakePublisher{})
	if _, _, err := svc.ListLogs(context.Background(), "missing", repository.LogListParams{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ListLogs() error = %v, want ErrNotFound", err)
	}
}
