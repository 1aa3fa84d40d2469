package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/service"
)

type SubscriptionService interface {
	Subscribe(ctx context.Context, in service.SubscribeInput) (*domain.Subscriber, error)
	Verify(ctx context.Context, token string) (*domain.Subscriber, error)
	Unsubscribe(ctx context.Context, email string, reason *string) error
	Preferences(ctx context.Context, token string) (*domain.Subscriber, error)
	UpdatePreferences(ctx context.Context, token string, in service.UpdatePreferencesInput) (*domain.Subscriber, error)
}

type NewsletterHandler struct {
	service SubscriptionService
}

func NewNewsletterHandler(service SubscriptionService) (*NewsletterHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("subscription service is required")
	}
	return &NewsletterHandler{service: service}, nil
}

// RegisterNewsletterRoutes mounts the public subscription endpoints under
// /v1/newsletter. The verify, unsubscribe and preference routes are also
// mounted under /newsletter, where the links rendered into emails point
// (BASE_URL + /newsletter/...).
func RegisterNewsletterRoutes(router fiber.Router, service SubscriptionService) error {
	h, err := NewNewsletterHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/newsletter")
	v1.Post("/subscribe", h.Subscribe)
	v1.Post("/unsubscribe", h.Unsubscribe)
	h.mountLinkRoutes(v1)

	h.mountLinkRoutes(router.Group("/newsletter"))
	return nil
}

func (h *NewsletterHandler) mountLinkRoutes(group fiber.Router) {
	group.Get("/verify", h.Verify)
	group.Get("/unsubscribe", h.UnsubscribeLink)
	group.Get("/preferences", h.GetPreferences)
	group.Put("/preferences", h.UpdatePreferences)
}

type subscribeRequest struct {
	Email    string   `json:"email"`
	Name     *string  `json:"name"`
	Locale   string   `json:"locale"`
	TopicIDs []string `json:"topicIds"`
}

type unsubscribeRequest struct {
	Email  string  `json:"email"`
	Reason *string `json:"reason"`
}

type updatePreferencesRequest struct {
	Name     *string   `json:"name"`
	Locale   *string   `json:"locale"`
	TopicIDs *[]string `json:"topicIds"`
}

// The token is never echoed back; it only travels by email.
type subscriberResponse struct {
	Email      string     `json:"email"`
	Name       *string    `json:"name,omitempty"`
	Locale     string     `json:"locale"`
	Subscribed bool       `json:"subscribed"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	TopicIDs   []string   `json:"topicIds"`
}

func (h *NewsletterHandler) Subscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sub, err := h.service.Subscribe(c.UserContext(), service.SubscribeInput{
		Email:    req.Email,
		Name:     req.Name,
		Locale:   req.Locale,
		TopicIDs: req.TopicIDs,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(toSubscriberResponse(sub))
}

func (h *NewsletterHandler) Verify(c *fiber.Ctx) error {
	sub, err := h.service.Verify(c.UserContext(), c.Query("token"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSubscriberResponse(sub))
}

func (h *NewsletterHandler) Unsubscribe(c *fiber.Ctx) error {
	var req unsubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return h.unsubscribe(c, req.Email, req.Reason)
}

func (h *NewsletterHandler) UnsubscribeLink(c *fiber.Ctx) error {
	return h.unsubscribe(c, c.Query("email"), nil)
}

func (h *NewsletterHandler) unsubscribe(c *fiber.Ctx, email string, reason *string) error {
	if err := h.service.Unsubscribe(c.UserContext(), email, reason); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "unsubscribed"})
}

func (h *NewsletterHandler) GetPreferences(c *fiber.Ctx) error {
	sub, err := h.service.Preferences(c.UserContext(), c.Query("token"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSubscriberResponse(sub))
}

func (h *NewsletterHandler) UpdatePreferences(c *fiber.Ctx) error {
	var req updatePreferencesRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sub, err := h.service.UpdatePreferences(c.UserContext(), c.Query("token"), service.UpdatePreferencesInput{
		Name:     req.Name,
		Locale:   req.Locale,
		TopicIDs: req.TopicIDs,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSubscriberResponse(sub))
}

func toSubscriberResponse(s *domain.Subscriber) subscriberResponse {
	if s == nil {
		return subscriberResponse{}
	}

	topicIDs := s.TopicIDs
	if topicIDs == nil {
		topicIDs = []string{}
	}
	return subscriberResponse{
		Email:      s.Email,
		Name:       s.Name,
		Locale:     s.Locale,
		Subscribed: s.Subscribed,
		VerifiedAt: s.VerifiedAt,
		TopicIDs:   topicIDs,
	}
}
