package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newsletter-engine/internal/domain"
	"github.com/kursadbilgin/newsletter-engine/internal/repository"
	"github.com/kursadbilgin/newsletter-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type CampaignService interface {
	Create(ctx context.Context, in service.CreateCampaignInput) (*domain.Campaign, error)
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error)
	ListLogs(ctx context.Context, campaignID string, params repository.LogListParams) ([]domain.CampaignLog, int64, error)
	Schedule(ctx context.Context, id string, when time.Time) (*domain.Campaign, error)
	SendNow(ctx context.Context, id string) (*domain.Campaign, error)
}

type CampaignHandler struct {
	service CampaignService
}

func NewCampaignHandler(service CampaignService) (*CampaignHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	return &CampaignHandler{service: service}, nil
}

func RegisterCampaignRoutes(router fiber.Router, service CampaignService) error {
	h, err := NewCampaignHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns", h.ListCampaigns)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Post("/campaigns/:id/schedule", h.ScheduleCampaign)
	v1.Post("/campaigns/:id/send", h.SendCampaign)
	v1.Get("/campaigns/:id/logs", h.ListCampaignLogs)

	return nil
}

type createCampaignRequest struct {
	Subject    string     `json:"subject"`
	TemplateID string     `json:"templateId"`
	TopicID    *string    `json:"topicId"`
	PostID     *string    `json:"postId"`
	PostType   *string    `json:"postType"`
	ScheduleAt *time.Time `json:"scheduledAt"`
}

type scheduleCampaignRequest struct {
	ScheduledAt *time.Time `json:"scheduledAt"`
}

type campaignResponse struct {
	ID              string     `json:"id"`
	Subject         string     `json:"subject"`
	TemplateID      string     `json:"templateId"`
	TopicID         *string    `json:"topicId,omitempty"`
	PostID          *string    `json:"postId,omitempty"`
	PostType        *string    `json:"postType,omitempty"`
	Status          string     `json:"status"`
	ScheduledAt     *time.Time `json:"scheduledAt,omitempty"`
	SentAt          *time.Time `json:"sentAt,omitempty"`
	TotalRecipients int        `json:"totalRecipients"`
	LastError       *string    `json:"lastError,omitempty"`
	DispatchAttempt int        `json:"dispatchAttempt"`
	CreatedAt       time.Time  `json:"createdAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt,omitempty"`
}

type campaignLogResponse struct {
	ID           string     `json:"id"`
	SubscriberID string     `json:"subscriberId"`
	Attempt      int        `json:"attempt"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	OpenedAt     *time.Time `json:"openedAt,omitempty"`
	ClickedAt    *time.Time `json:"clickedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type listCampaignsResponse struct {
	Data []campaignResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listCampaignLogsResponse struct {
	Data []campaignLogResponse `json:"data"`
	Meta listMeta              `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

// CreateCampaign stores a draft, and schedules it right away when the request
// carries scheduledAt.
func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	in := service.CreateCampaignInput{
		Subject:    req.Subject,
		TemplateID: req.TemplateID,
		TopicID:    req.TopicID,
		PostID:     req.PostID,
	}
	if req.PostType != nil && strings.TrimSpace(*req.PostType) != "" {
		postType, err := domain.ParsePostTypeFromString(*req.PostType)
		if err != nil {
			return toHTTPError(err)
		}
		in.PostType = &postType
	}

	ctx := c.UserContext()
	campaign, err := h.service.Create(ctx, in)
	if err != nil {
		return toHTTPError(err)
	}

	if req.ScheduleAt != nil {
		campaign, err = h.service.Schedule(ctx, campaign.ID, *req.ScheduleAt)
		if err != nil {
			return toHTTPError(err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	campaign, err := h.service.GetByID(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	page, pageSize, err := parsePage(c)
	if err != nil {
		return toHTTPError(err)
	}
	params := repository.CampaignListParams{Page: page, PageSize: pageSize}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseCampaignStatusFromString(rawStatus)
		if err != nil {
			return toHTTPError(err)
		}
		params.Status = &status
	}

	campaigns, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		data = append(data, toCampaignResponse(&campaigns[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listCampaignsResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func (h *CampaignHandler) ScheduleCampaign(c *fiber.Ctx) error {
	var req scheduleCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.ScheduledAt == nil {
		return toHTTPError(fmt.Errorf("%w: scheduledAt is required", domain.ErrValidation))
	}

	campaign, err := h.service.Schedule(c.UserContext(), strings.TrimSpace(c.Params("id")), *req.ScheduledAt)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

// SendCampaign starts a dispatch run; delivery continues in the worker.
func (h *CampaignHandler) SendCampaign(c *fiber.Ctx) error {
	campaign, err := h.service.SendNow(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) ListCampaignLogs(c *fiber.Ctx) error {
	page, pageSize, err := parsePage(c)
	if err != nil {
		return toHTTPError(err)
	}
	params := repository.LogListParams{Page: page, PageSize: pageSize}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseLogStatusFromString(rawStatus)
		if err != nil {
			return toHTTPError(err)
		}
		params.Status = &status
	}

	logs, total, err := h.service.ListLogs(c.UserContext(), strings.TrimSpace(c.Params("id")), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]campaignLogResponse, 0, len(logs))
	for _, l := range logs {
		data = append(data, campaignLogResponse{
			ID:           l.ID,
			SubscriberID: l.SubscriberID,
			Attempt:      l.Attempt,
			Status:       l.Status.String(),
			ErrorMessage: l.ErrorMessage,
			OpenedAt:     l.OpenedAt,
			ClickedAt:    l.ClickedAt,
			CreatedAt:    l.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(listCampaignLogsResponse{
		Data: data,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func parsePage(c *fiber.Ctx) (int, int, error) {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return page, pageSize, nil
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	if c == nil {
		return campaignResponse{}
	}

	resp := campaignResponse{
		ID:              c.ID,
		Subject:         c.Subject,
		TemplateID:      c.TemplateID,
		TopicID:         c.TopicID,
		PostID:          c.PostID,
		Status:          c.Status.String(),
		ScheduledAt:     c.ScheduledAt,
		SentAt:          c.SentAt,
		TotalRecipients: c.TotalRecipients,
		LastError:       c.LastError,
		DispatchAttempt: c.DispatchAttempt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if c.PostType != nil {
		postType := c.PostType.String()
		resp.PostType = &postType
	}
	return resp
}
