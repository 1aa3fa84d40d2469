package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultHTTPTimeout = 10 * time.Second

type relayRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// HTTPMailer posts messages to a JSON mail relay API.
type HTTPMailer struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	from     string
}

var _ Mailer = (*HTTPMailer)(nil)

func NewHTTPMailer(endpoint, apiKey, from string) (*HTTPMailer, error) {
	client := resty.New()
	client.SetTimeout(defaultHTTPTimeout)
	client.SetRetryCount(0)

	return NewHTTPMailerWithClient(endpoint, apiKey, from, client)
}

func NewHTTPMailerWithClient(endpoint, apiKey, from string, client *resty.Client) (*HTTPMailer, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mail api url is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mail api url: %w", err)
	}
	if _, err := envelopeAddress(from); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPMailer{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
		from:     from,
	}, nil
}

func (m *HTTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("mailer is not initialized")
	}
	if _, err := envelopeAddress(to); err != nil {
		return &DeliveryError{Message: fmt.Sprintf("invalid recipient %q", to), Cause: err}
	}

	req := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(relayRequest{From: m.from, To: to, Subject: subject, HTML: htmlBody})
	if m.apiKey != "" {
		req.SetAuthToken(m.apiKey)
	}

	response, err := req.Post(m.endpoint)
	if err != nil {
		return &DeliveryError{
			Message:   "mail api request failed",
			Temporary: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &DeliveryError{
		Code:      statusCode,
		Message:   relayErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Temporary: isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func relayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("mail api returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("%s: %s", base, body)
}
