package domain

import (
	"fmt"
	"strings"
)

// PostType identifies the content store a post lives in.
type PostType string

const (
	PostTypeBlog PostType = "blog"
	PostTypeNews PostType = "news"
)

func (t PostType) String() string { return string(t) }

func (t PostType) IsValid() bool {
	switch t {
	case PostTypeBlog, PostTypeNews:
		return true
	}
	return false
}

func ParsePostTypeFromString(s string) (PostType, error) {
	pt := PostType(strings.ToLower(strings.TrimSpace(s)))
	if !pt.IsValid() {
		return "", fmt.Errorf("%w: invalid post type %q", ErrValidation, s)
	}
	return pt, nil
}

// PostStatus is the publication state of a post.
type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusPublished PostStatus = "published"
	PostStatusArchived  PostStatus = "archived"
)

// Post is the subset of a blog or news item used when rendering campaigns.
type Post struct {
	ID       string
	Type     PostType
	Title    string
	SubTitle *string
	Excerpt  string
	Slug     string
	Status   PostStatus
}

// ContentPublished is emitted by the content-publishing code path when a
// post becomes published.
type ContentPublished struct {
	PostID   string
	PostType PostType
	Title    string
}

func (e ContentPublished) Validate() error {
	if strings.TrimSpace(e.PostID) == "" {
		return fmt.Errorf("%w: post id is required", ErrValidation)
	}
	if !e.PostType.IsValid() {
		return fmt.Errorf("%w: invalid post type %q", ErrValidation, e.PostType)
	}
	return nil
}

// IsPublishTransition reports whether saving a post moved it into the
// published state. previous is nil when the post is being created.
func IsPublishTransition(previous *PostStatus, current PostStatus) bool {
	if current != PostStatusPublished {
		return false
	}
	return previous == nil || *previous != PostStatusPublished
}
