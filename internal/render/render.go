// Package render expands merge tags in newsletter templates for one
// campaign and one subscriber.
package render

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/kursadbilgin/newsletter-engine/internal/domain"
)

const (
	defaultName = "Subscriber"
	buttonLabel = "Baca Selengkapnya"
)

// PostFinder looks up the post a campaign was created for. It returns
// domain.ErrNotFound when the post does not exist.
type PostFinder interface {
	FindPost(ctx context.Context, postType domain.PostType, id string) (*domain.Post, error)
}

type Config struct {
	// BaseURL hosts the unsubscribe and preference pages.
	BaseURL string
	// FrontendBaseURL hosts the public post pages.
	FrontendBaseURL string
}

type Renderer struct {
	cfg   Config
	posts PostFinder
}

func NewRenderer(cfg Config, posts PostFinder) *Renderer {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.FrontendBaseURL = strings.TrimRight(strings.TrimSpace(cfg.FrontendBaseURL), "/")
	return &Renderer{cfg: cfg, posts: posts}
}

// Render produces the HTML body of campaign for one recipient.
func (r *Renderer) Render(ctx context.Context, body string, campaign domain.Campaign, sub domain.Subscriber) (string, error) {
	view, err := r.Prepare(ctx, campaign)
	if err != nil {
		return "", err
	}
	return view.Body(body, sub)
}

// Prepare resolves the per-campaign tag values once so that a dispatch run
// does not look the post up for every recipient. A missing post yields empty
// post tags; any other lookup error is returned.
func (r *Renderer) Prepare(ctx context.Context, campaign domain.Campaign) (*CampaignView, error) {
	view := &CampaignView{renderer: r, subject: campaign.Subject}
	if !campaign.HasPost() || r.posts == nil {
		return view, nil
	}

	post, err := r.posts.FindPost(ctx, *campaign.PostType, *campaign.PostID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && post == nil) {
		return view, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post %s/%s: %w", *campaign.PostType, *campaign.PostID, err)
	}

	view.title = post.Title
	if post.SubTitle != nil {
		view.subTitle = *post.SubTitle
	}
	view.excerpt = post.Excerpt
	if post.Slug != "" {
		view.postURL = fmt.Sprintf("%s/%s/%s", r.cfg.FrontendBaseURL, *campaign.PostType, post.Slug)
	}
	return view, nil
}

// UnsubscribeURL is the unsubscribe link for email.
func (r *Renderer) UnsubscribeURL(email string) string {
	return r.cfg.BaseURL + "/newsletter/unsubscribe?email=" + url.QueryEscape(email)
}

// PreferenceURL is the preference-centre link keyed by the subscriber token.
func (r *Renderer) PreferenceURL(token string) string {
	return r.cfg.BaseURL + "/newsletter/preferences?token=" + url.QueryEscape(token)
}

// VerifyURL is the link that redeems a verification token.
func (r *Renderer) VerifyURL(token string) string {
	return r.cfg.BaseURL + "/newsletter/verify?token=" + url.QueryEscape(token)
}

// CampaignView holds the post-derived tag values of one campaign.
type CampaignView struct {
	renderer *Renderer
	subject  string
	title    string
	subTitle string
	excerpt  string
	postURL  string
}

// PostURL is the public link of the campaign's post, or "" without one.
func (v *CampaignView) PostURL() string { return v.postURL }

// Body substitutes every tag in body in a single pass, so a value that looks
// like a tag is never expanded again. Values are HTML escaped.
func (v *CampaignView) Body(body string, sub domain.Subscriber) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("%w: template body is empty", domain.ErrValidation)
	}

	button := ""
	if v.postURL != "" {
		button = fmt.Sprintf(
			`<a href="%s" style="display:inline-block;padding:12px 24px;background:#1a73e8;color:#ffffff;text-decoration:none;border-radius:4px;">%s</a>`,
			html.EscapeString(v.postURL), buttonLabel,
		)
	}

	return strings.NewReplacer(v.pairs(sub, html.EscapeString, button)...).Replace(body), nil
}

// Subject renders the subject line as plain text.
func (v *CampaignView) Subject(sub domain.Subscriber) string {
	if !strings.Contains(v.subject, "{{") {
		return v.subject
	}
	return strings.NewReplacer(v.pairs(sub, func(s string) string { return s }, "")...).Replace(v.subject)
}

func (v *CampaignView) pairs(sub domain.Subscriber, escape func(string) string, button string) []string {
	return []string{
		"{{name}}", escape(sub.DisplayName(defaultName)),
		"{{email}}", escape(sub.Email),
		"{{unsubscribe_url}}", escape(v.renderer.UnsubscribeURL(sub.Email)),
		"{{preference_url}}", escape(v.renderer.PreferenceURL(sub.Token)),
		"{{title}}", escape(v.title),
		"{{sub_title}}", escape(v.subTitle),
		"{{excerpt}}", escape(v.excerpt),
		"{{post_url}}", escape(v.postURL),
		"{{button}}", button,
		"{{body}}", "",
	}
}
