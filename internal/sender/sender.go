// Package sender posts outbound messages to the send-message endpoint of the
// backend, which forwards them to the WhatsApp Cloud API.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"wainbox/server/internal/models"
)

// ErrEmptyMessage is returned for a request with no text, file or template
var ErrEmptyMessage = errors.New("message has no text, file or template")

// ErrInvalidRequest wraps every other validation failure
var ErrInvalidRequest = errors.New("invalid request")

// StatusError is returned when the endpoint answers anything but 200
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("send message: status %d", e.Code)
	}
	return fmt.Sprintf("send message: status %d: %s", e.Code, e.Body)
}

// File is an attachment for a media message
type File struct {
	Type    string // image, video or document
	Name    string
	Content []byte
}

// Request is one outbound message
type Request struct {
	To       int64
	Text     string
	File     *File
	Template *models.TemplateRequest
}

// Kind returns the payload kind the request produces
func (r *Request) Kind() string {
	switch {
	case r.Template != nil:
		return models.KindTemplate
	case r.File != nil:
		return r.File.Type
	default:
		return models.KindText
	}
}

// Validate checks that the request carries something to send
func (r *Request) Validate() error {
	if r.To <= 0 {
		return fmt.Errorf("%w: recipient %d", ErrInvalidRequest, r.To)
	}
	if r.Template != nil {
		if r.Template.Name == "" {
			return fmt.Errorf("%w: template name is required", ErrInvalidRequest)
		}
		return nil
	}
	if r.File != nil {
		switch r.File.Type {
		case models.KindImage, models.KindVideo, models.KindDocument:
		default:
			return fmt.Errorf("%w: file type %q", ErrInvalidRequest, r.File.Type)
		}
		if len(r.File.Content) == 0 {
			return fmt.Errorf("%w: file %q is empty", ErrInvalidRequest, r.File.Name)
		}
		return nil
	}
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Result is the outcome of an accepted send
type Result struct {
	WamID string // Provider message id, empty when the endpoint does not return one
}

// Client sends messages over HTTP
type Client struct {
	url     string
	token   string
	timeout time.Duration
}

// New creates a client for the send-message endpoint. The token, when set,
// is sent as a bearer token.
func New(url, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{url: url, token: token, timeout: timeout}
}

// Send posts the request as multipart form data: to, message, and either
// fileType plus file or a template JSON document.
func (c *Client) Send(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if c.url == "" {
		return Result{}, fmt.Errorf("send message: endpoint is not configured")
	}

	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("to", models.FormatWaID(req.To))
	args.Set("message", strings.TrimSpace(req.Text))
	if req.Template != nil {
		body, err := json.Marshal(req.Template)
		if err != nil {
			return Result{}, fmt.Errorf("encode template: %w", err)
		}
		args.Set("template", string(body))
	}

	a := fiber.Post(c.url)
	if c.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	if req.File != nil {
		args.Set("fileType", req.File.Type)
		a.FileData(&fiber.FormFile{
			Fieldname: "file",
			Name:      req.File.Name,
			Content:   req.File.Content,
		})
	}
	a.MultipartForm(args)
	a.Timeout(timeout)

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return Result{}, fmt.Errorf("send message: %w", errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return Result{}, &StatusError{Code: code, Body: strings.TrimSpace(string(body))}
	}
	return Result{WamID: parseWamID(body)}, nil
}

// parseWamID reads the provider id from a Cloud API style response
// ({"messages":[{"id":...}]}) or a flat {"wam_id":...} body.
func parseWamID(body []byte) string {
	var resp struct {
		WamID    string `json:"wam_id"`
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if len(resp.Messages) > 0 && resp.Messages[0].ID != "" {
		return resp.Messages[0].ID
	}
	return resp.WamID
}
