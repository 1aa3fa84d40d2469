package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/queue"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublicationTriggerCreatesAndDispatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		postType    domain.PostType
		wantPattern []string
		wantSlugs   []string
		wantSubject string
	}{
		{
			name:        "blog",
			postType:    domain.PostTypeBlog,
			wantPattern: []string{"New Post", "Artikel"},
			wantSlugs:   []string{"blog"},
			wantSubject: "Artikel Baru: Go 1.26 released",
		},
		{
			name:        "news",
			postType:    domain.PostTypeNews,
			wantPattern: []string{"New Post", "Berita"},
			wantSlugs:   []string{"news", "berita"},
			wantSubject: "Berita Baru: Go 1.26 released",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			templates := &fakeTemplateRepo{
				findByNamePatternsFn: func(ctx context.Context, patterns []string) (*domain.Template, error) {
					if !slices.Equal(patterns, tt.wantPattern) {
						t.Fatalf("patterns = %v, want %v", patterns, tt.wantPattern)
					}
					return &domain.Template{ID: "tpl-1"}, nil
				},
			}
			topics := &fakeTopicRepo{
				findBySlugsFn: func(ctx context.Context, slugs []string) (*domain.Topic, error) {
					if !slices.Equal(slugs, tt.wantSlugs) {
						t.Fatalf("slugs = %v, want %v", slugs, tt.wantSlugs)
					}
					return &domain.Topic{ID: "topic-1"}, nil
				},
			}

			var created CreateCampaignInput
			var dispatched []string
			launcher := &fakeLauncher{
				createFn: func(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
					created = in
					return &domain.Campaign{ID: "c-9"}, nil
				},
				startDispatchFn: func(ctx context.Context, id string, reason queue.DispatchReason) (*domain.Campaign, error) {
					if reason != queue.ReasonPublished {
						t.Fatalf("reason = %s, want published", reason)
					}
					dispatched = append(dispatched, id)
					return &domain.Campaign{ID: id}, nil
				},
			}

			trigger, err := NewPublicationTrigger(templates, topics, nil, launcher, zap.NewNop())
			if err != nil {
				t.Fatalf("NewPublicationTrigger() error = %v", err)
			}
			trigger.OnContentPublished(context.Background(), domain.ContentPublished{
				PostID:   "p-1",
				PostType: tt.postType,
				Title:    "Go 1.26 released",
			})

			if created.Subject != tt.wantSubject {
				t.Fatalf("subject = %q, want %q", created.Subject, tt.wantSubject)
			}
			if created.TemplateID != "tpl-1" {
				t.Fatalf("template = %q, want tpl-1", created.TemplateID)
			}
			if created.TopicID == nil || *created.TopicID != "topic-1" {
				t.Fatalf("topic = %v, want topic-1", created.TopicID)
			}
			if created.PostID == nil || *created.PostID != "p-1" || created.PostType == nil || *created.PostType != tt.postType {
				t.Fatalf("post reference = %v/%v, want p-1/%s", created.PostID, created.PostType, tt.postType)
			}
			if !slices.Equal(dispatched, []string{"c-9"}) {
				t.Fatalf("dispatched = %v, want [c-9]", dispatched)
			}
		})
	}
}

func TestPublicationTriggerNoTemplateCreatesNothing(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{
		createFn: func(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
			t.Fatal("Create should not be called")
			return nil, nil
		},
	}
	core, recorded := observer.New(zapcore.InfoLevel)
	trigger, err := NewPublicationTrigger(&fakeTemplateRepo{}, &fakeTopicRepo{}, nil, launcher, zap.New(core))
	if err != nil {
		t.Fatalf("NewPublicationTrigger() error = %v", err)
	}

	trigger.OnContentPublished(context.Background(), domain.ContentPublished{PostID: "p-1", PostType: domain.PostTypeNews, Title: "t"})

	entries := recorded.FilterMessage("no newsletter template for published post, skipping").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("entries = %+v, want one WARN entry", entries)
	}
}

func TestPublicationTriggerMissingTopicBroadcasts(t *testing.T) {
	t.Parallel()

	templates := &fakeTemplateRepo{
		findByNamePatternsFn: func(ctx context.Context, patterns []string) (*domain.Template, error) {
			return &domain.Template{ID: "tpl-1"}, nil
		},
	}
	var created CreateCampaignInput
	launcher := &fakeLauncher{
		createFn: func(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
			created = in
			return &domain.Campaign{ID: "c-1"}, nil
		},
	}
	trigger, _ := NewPublicationTrigger(templates, &fakeTopicRepo{}, nil, launcher, nil)

	trigger.OnContentPublished(context.Background(), domain.ContentPublished{PostID: "p-1", PostType: domain.PostTypeBlog, Title: "t"})

	if created.TemplateID != "tpl-1" {
		t.Fatal("campaign was not created")
	}
	if created.TopicID != nil {
		t.Fatalf("topic = %q, want nil", *created.TopicID)
	}
}

func TestPublicationTriggerFillsMissingTitle(t *testing.T) {
	t.Parallel()

	templates := &fakeTemplateRepo{
		findByNamePatternsFn: func(ctx context.Context, patterns []string) (*domain.Template, error) {
			return &domain.Template{ID: "tpl-1"}, nil
		},
	}
	posts := &fakePostFinder{
		findPostFn: func(ctx context.Context, postType domain.PostType, id string) (*domain.Post, error) {
			return &domain.Post{ID: id, Type: postType, Title: "From store"}, nil
		},
	}
	var subject string
	launcher := &fakeLauncher{
		createFn: func(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
			subject = in.Subject
			return &domain.Campaign{ID: "c-1"}, nil
		},
	}
	trigger, _ := NewPublicationTrigger(templates, &fakeTopicRepo{}, posts, launcher, nil)

	trigger.OnContentPublished(context.Background(), domain.ContentPublished{PostID: "p-1", PostType: domain.PostTypeBlog})

	if subject != "Artikel Baru: From store" {
		t.Fatalf("subject = %q, want title from the post store", subject)
	}
}

func TestPublicationTriggerSwallowsErrorsAndPanics(t *testing.T) {
	t.Parallel()

	templates := &fakeTemplateRepo{
		findByNamePatternsFn: func(ctx context.Context, patterns []string) (*domain.Template, error) {
			return &domain.Template{ID: "tpl-1"}, nil
		},
	}

	tests := []struct {
		name     string
		launcher *fakeLauncher
		wantMsg  string
	}{
		{
			name: "dispatch error",
			launcher: &fakeLauncher{
				startDispatchFn: func(ctx context.Context, id string, reason queue.DispatchReason) (*domain.Campaign, error) {
					return nil, errors.New("broker down")
				},
			},
			wantMsg: "publication trigger failed",
		},
		{
			name: "panic",
			launcher: &fakeLauncher{
				createFn: func(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
					panic("boom")
				},
			},
			wantMsg: "publication trigger panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.InfoLevel)
			trigger, _ := NewPublicationTrigger(templates, &fakeTopicRepo{}, nil, tt.launcher, zap.New(core))

			trigger.OnContentPublished(context.Background(), domain.ContentPublished{PostID: "p-1", PostType: domain.PostTypeBlog, Title: "t"})

			if recorded.FilterMessage(tt.wantMsg).Len() != 1 {
				t.Fatalf("missing %q log entry, got %+v", tt.wantMsg, recorded.All())
			}
		})
	}
}

func TestPublicationTriggerIgnoresInvalidEvent(t *testing.T) {
	t.Parallel()

	templates := &fakeTemplateRepo{
		findByNamePatternsFn: func(ctx context.Context, patterns []string) (*domain.Template, error) {
			t.Fatal("template lookup should not happen")
			return nil, nil
		},
	}
	trigger, _ := NewPublicationTrigger(templates, &fakeTopicRepo{}, nil, &fakeLauncher{}, nil)
	trigger.OnContentPublished(context.Background(), domain.ContentPublished{PostType: "video"})
}
