package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/service"
)

// PostStore is the local read model of posts used for rendering.
type PostStore interface {
	FindPost(ctx context.Context, postType domain.PostType, id string) (*domain.Post, error)
	Upsert(ctx context.Context, p *domain.Post) error
}

// ContentHandler receives post saves from a content service running in
// another process.
type ContentHandler struct {
	posts   PostStore
	trigger service.ContentPublishedHandler
}

func NewContentHandler(posts PostStore, trigger service.ContentPublishedHandler) (*ContentHandler, error) {
	if posts == nil || trigger == nil {
		return nil, fmt.Errorf("post store and publication trigger are required")
	}
	return &ContentHandler{posts: posts, trigger: trigger}, nil
}

func RegisterContentRoutes(router fiber.Router, posts PostStore, trigger service.ContentPublishedHandler) error {
	h, err := NewContentHandler(posts, trigger)
	if err != nil {
		return err
	}

	router.Group("/v1").Post("/content/published", h.ContentSaved)
	return nil
}

type contentSavedRequest struct {
	PostID         string  `json:"postId"`
	PostType       string  `json:"postType"`
	Title          string  `json:"title"`
	SubTitle       *string `json:"subTitle"`
	Excerpt        string  `json:"excerpt"`
	Slug           string  `json:"slug"`
	Status         string  `json:"status"`
	PreviousStatus *string `json:"previousStatus"`
}

type contentSavedResponse struct {
	PostID    string `json:"postId"`
	Triggered bool   `json:"triggered"`
}

// ContentSaved stores the post and fires the publication trigger when the
// save moved it into published. Without previousStatus the stored status is
// used.
func (h *ContentHandler) ContentSaved(c *fiber.Ctx) error {
	var req contentSavedRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	postType, err := domain.ParsePostTypeFromString(req.PostType)
	if err != nil {
		return toHTTPError(err)
	}
	postID := strings.TrimSpace(req.PostID)
	if postID == "" {
		return toHTTPError(fmt.Errorf("%w: postId is required", domain.ErrValidation))
	}
	status, err := parsePostStatus(req.Status, domain.PostStatusPublished)
	if err != nil {
		return toHTTPError(err)
	}

	ctx := c.UserContext()
	var previous *domain.PostStatus
	if req.PreviousStatus != nil {
		prev, err := parsePostStatus(*req.PreviousStatus, "")
		if err != nil {
			return toHTTPError(err)
		}
		if prev != "" {
			previous = &prev
		}
	} else {
		stored, err := h.posts.FindPost(ctx, postType, postID)
		switch {
		case err == nil:
			previous = &stored.Status
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}

	post := &domain.Post{
		ID:       postID,
		Type:     postType,
		Title:    strings.TrimSpace(req.Title),
		SubTitle: req.SubTitle,
		Excerpt:  req.Excerpt,
		Slug:     strings.TrimSpace(req.Slug),
		Status:   status,
	}
	if err := h.posts.Upsert(ctx, post); err != nil {
		return err
	}

	triggered := domain.IsPublishTransition(previous, status)
	if triggered {
		h.trigger.OnContentPublished(ctx, domain.ContentPublished{
			PostID:   post.ID,
			PostType: post.Type,
			Title:    post.Title,
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(contentSavedResponse{PostID: post.ID, Triggered: triggered})
}

func parsePostStatus(raw string, fallback domain.PostStatus) (domain.PostStatus, error) {
	status := domain.PostStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case "":
		return fallback, nil
	case domain.PostStatusDraft, domain.PostStatusPublished, domain.PostStatusArchived:
		return status, nil
	}
	return "", fmt.Errorf("%w: invalid post status %q", domain.ErrValidation, raw)
}
