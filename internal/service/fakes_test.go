package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
)

type fakeCampaignRepo struct {
	createFn             func(ctx context.Context, c *domain.Campaign) error
	getByIDFn            func(ctx context.Context, id string) (*domain.Campaign, error)
	listFn               func(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error)
	scheduleFn           func(ctx context.Context, id string, at time.Time) (*domain.Campaign, error)
	markSendingFn        func(ctx context.Context, id string) (*domain.Campaign, error)
	setTotalRecipientsFn func(ctx context.Context, id string, total int) error
	finalizeFn           func(ctx context.Context, id string, outcome domain.Outcome, sentAt *time.Time) error
	getDueScheduledFn    func(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	listStalledFn        func(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Campaign, error)
}

func (f *fakeCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if f.createFn != nil {
		return f.createFn(ctx, c)
	}
	return nil
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCampaignRepo) List(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeCampaignRepo) Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	if f.scheduleFn != nil {
		return f.scheduleFn(ctx, id, at)
	}
	return nil, nil
}

func (f *fakeCampaignRepo) MarkSending(ctx context.Context, id string) (*domain.Campaign, error) {
	if f.markSendingFn != nil {
		return f.markSendingFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeCampaignRepo) SetTotalRecipients(ctx context.Context, id string, total int) error {
	if f.setTotalRecipientsFn != nil {
		return f.setTotalRecipientsFn(ctx, id, total)
	}
	return nil
}

func (f *fakeCampaignRepo) Finalize(ctx context.Context, id string, outcome domain.Outcome, sentAt *time.Time) error {
	if f.finalizeFn != nil {
		return f.finalizeFn(ctx, id, outcome, sentAt)
	}
	return nil
}

func (f *fakeCampaignRepo) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if f.getDueScheduledFn != nil {
		return f.getDueScheduledFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeCampaignRepo) ListStalled(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Campaign, error) {
	if f.listStalledFn != nil {
		return f.listStalledFn(ctx, updatedBefore, limit)
	}
	return nil, nil
}

// memLogRepo keeps campaign logs in memory and enforces the
// (campaign, attempt, subscriber) uniqueness of the real table.
type memLogRepo struct {
	mu       sync.Mutex
	logs     []domain.CampaignLog
	createFn func(ctx context.Context, l *domain.CampaignLog) error
}

func (r *memLogRepo) Create(ctx context.Context, l *domain.CampaignLog) error {
	if r.createFn != nil {
		if err := r.createFn(ctx, l); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.logs {
		if existing.CampaignID == l.CampaignID && existing.Attempt == l.Attempt && existing.SubscriberID == l.SubscriberID {
			return domain.ErrConflict
		}
	}
	r.logs = append(r.logs, *l)
	return nil
}

func (r *memLogRepo) ListByCampaign(_ context.Context, campaignID string, _ repository.LogListParams) ([]domain.CampaignLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CampaignLog
	for _, l := range r.logs {
		if l.CampaignID == campaignID {
			out = append(out, l)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memLogRepo) LoggedSubscriberIDs(_ context.Context, campaignID string, attempt int) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[string]struct{})
	for _, l := range r.logs {
		if l.CampaignID == campaignID && l.Attempt == attempt {
			ids[l.SubscriberID] = struct{}{}
		}
	}
	return ids, nil
}

func (r *memLogRepo) CountByStatus(_ context.Context, campaignID string, attempt int) (domain.LogCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var counts domain.LogCounts
	var failed []domain.CampaignLog
	for _, l := range r.logs {
		if l.CampaignID != campaignID || l.Attempt != attempt {
			continue
		}
		switch l.Status {
		case domain.LogStatusSent:
			counts.Sent++
		case domain.LogStatusFailed:
			counts.Failed++
			failed = append(failed, l)
		}
	}
	sort.SliceStable(failed, func(i, j int) bool { return failed[i].CreatedAt.Before(failed[j].CreatedAt) })
	if len(failed) > 0 && failed[0].ErrorMessage != nil {
		counts.FirstError = *failed[0].ErrorMessage
	}
	return counts, nil
}

func (r *memLogRepo) snapshot() []domain.CampaignLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CampaignLog(nil), r.logs...)
}

type fakeTemplateRepo struct {
	getByIDFn            func(ctx context.Context, id string) (*domain.Template, error)
	findByNamePatternsFn func(ctx context.Context, patterns []string) (*domain.Template, error)
}

func (f *fakeTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTemplateRepo) FindByNamePatterns(ctx context.Context, patterns []string) (*domain.Template, error) {
	if f.findByNamePatternsFn != nil {
		return f.findByNamePatternsFn(ctx, patterns)
	}
	return nil, domain.ErrNotFound
}

type fakeTopicRepo struct {
	getByIDFn     func(ctx context.Context, id string) (*domain.Topic, error)
	findBySlugsFn func(ctx context.Context, slugs []string) (*domain.Topic, error)
	listDefaultFn func(ctx context.Context) ([]domain.Topic, error)
	countByIDsFn  func(ctx context.Context, ids []string) (int64, error)
}

func (f *fakeTopicRepo) GetByID(ctx context.Context, id string) (*domain.Topic, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTopicRepo) FindBySlugs(ctx context.Context, slugs []string) (*domain.Topic, error) {
	if f.findBySlugsFn != nil {
		return f.findBySlugsFn(ctx, slugs)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeTopicRepo) ListDefault(ctx context.Context) ([]domain.Topic, error) {
	if f.listDefaultFn != nil {
		return f.listDefaultFn(ctx)
	}
	return nil, nil
}

func (f *fakeTopicRepo) CountByIDs(ctx context.Context, ids []string) (int64, error) {
	if f.countByIDsFn != nil {
		return f.countByIDsFn(ctx, ids)
	}
	return int64(len(ids)), nil
}

type fakeSubscriberRepo struct {
	createFn       func(ctx context.Context, s *domain.Subscriber) error
	updateFn       func(ctx context.Context, s *domain.Subscriber) error
	getByEmailFn   func(ctx context.Context, email string) (*domain.Subscriber, error)
	getByTokenFn   func(ctx context.Context, token string) (*domain.Subscriber, error)
	markVerifiedFn func(ctx context.Context, id string, at time.Time) error
	unsubscribeFn  func(ctx context.Context, email string, reason *string) error
	listEligibleFn func(ctx context.Context, topicID *string) ([]domain.Subscriber, error)
}

func (f *fakeSubscriberRepo) Create(ctx context.Context, s *domain.Subscriber) error {
	if f.createFn != nil {
		return f.createFn(ctx, s)
	}
	return nil
}

func (f *fakeSubscriberRepo) Update(ctx context.Context, s *domain.Subscriber) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, s)
	}
	return nil
}

func (f *fakeSubscriberRepo) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSubscriberRepo) GetByToken(ctx context.Context, token string) (*domain.Subscriber, error) {
	if f.getByTokenFn != nil {
		return f.getByTokenFn(ctx, token)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSubscriberRepo) MarkVerified(ctx context.Context, id string, at time.Time) error {
	if f.markVerifiedFn != nil {
		return f.markVerifiedFn(ctx, id, at)
	}
	return nil
}

func (f *fakeSubscriberRepo) Unsubscribe(ctx context.Context, email string, reason *string) error {
	if f.unsubscribeFn != nil {
		return f.unsubscribeFn(ctx, email, reason)
	}
	return nil
}

func (f *fakeSubscriberRepo) ListEligible(ctx context.Context, topicID *string) ([]domain.Subscriber, error) {
	if f.listEligibleFn != nil {
		return f.listEligibleFn(ctx, topicID)
	}
	return nil, nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.DispatchMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []sentMail
	sendFn func(ctx context.Context, to, subject, htmlBody string) error
}

func (f *fakeMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if f.sendFn != nil {
		if err := f.sendFn(ctx, to, subject, htmlBody); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (f *fakeMailer) delivered() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, bucket string) error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, bucket string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, bucket)
	}
	return nil
}

type fakeLauncher struct {
	createFn        func(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error)
	startDispatchFn func(ctx context.Context, id string, reason queue.DispatchReason) (*domain.Campaign, error)
}

func (f *fakeLauncher) Create(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
	if f.createFn != nil {
		return f.createFn(ctx, in)
	}
	return &domain.Campaign{ID: "c-new", Subject: in.Subject, TemplateID: in.TemplateID}, nil
}

func (f *fakeLauncher) StartDispatch(ctx context.Context, id string, reason queue.DispatchReason) (*domain.Campaign, error) {
	if f.startDispatchFn != nil {
		return f.startDispatchFn(ctx, id, reason)
	}
	return &domain.Campaign{ID: id, Status: domain.CampaignStatusSending, DispatchAttempt: 1}, nil
}

type fakePostFinder struct {
	findPostFn func(ctx context.Context, postType domain.PostType, id string) (*domain.Post, error)
}

func (f *fakePostFinder) FindPost(ctx context.Context, postType domain.PostType, id string) (*domain.Post, error) {
	if f.findPostFn != nil {
		return f.findPostFn(ctx, postType, id)
	}
	return nil, domain.ErrNotFound
}

func strPtr(s string) *string { return &s }
