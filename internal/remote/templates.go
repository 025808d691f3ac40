package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

// ErrMalformedPayload marks a template list the terminal refuses to load.
var ErrMalformedPayload = errors.New("malformed template payload")

// Template is one face template as served by the remote.
type Template struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	Embedding   []float32 `json:"embedding"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type templatesResponse struct {
	Templates []Template `json:"templates"`
}

type putTemplateRequest struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name,omitempty"`
	Embedding   []float32 `json:"embedding"`
}

// ToDatabase converts the wire template. A missing status means active and
// any status other than active is stored as inactive.
func (t Template) ToDatabase() database.FaceTemplate {
	status := database.TemplateStatusInactive
	switch strings.ToLower(strings.TrimSpace(t.Status)) {
	case "", database.TemplateStatusActive:
		status = database.TemplateStatusActive
	}
	return database.FaceTemplate{
		Identity:    strings.TrimSpace(t.Identity),
		DisplayName: t.DisplayName,
		Embedding:   t.Embedding,
		Status:      status,
		UpdatedAt:   t.UpdatedAt,
	}
}

// FetchTemplates downloads every template known to the remote. Active
// templates are validated, including a common embedding dimension; inactive
// ones are returned unchecked and the caller filters them.
func (c *Client) FetchTemplates(ctx context.Context) ([]database.FaceTemplate, error) {
	resp, err := doGetJSON[templatesResponse](ctx, c, "face-templates")
	if err != nil {
		return nil, fmt.Errorf("fetch templates: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedPayload)
	}
	out := make([]database.FaceTemplate, 0, len(resp.Templates))
	active := make([]database.FaceTemplate, 0, len(resp.Templates))
	for _, t := range resp.Templates {
		ft := t.ToDatabase()
		out = append(out, ft)
		if ft.IsActive() {
			active = append(active, ft)
		}
	}
	if err := database.ValidateTemplates(active); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return out, nil
}

// PushTemplate uploads a locally enrolled template. The remote upserts by
// identity, so repeating a push is harmless.
func (c *Client) PushTemplate(ctx context.Context, t database.FaceTemplate) error {
	if t.Identity == "" {
		return fmt.Errorf("push template: %w", database.ErrInvalidTemplate)
	}
	err := doPutJSON(ctx, c, putTemplateRequest{
		Identity:    t.Identity,
		DisplayName: t.DisplayName,
		Embedding:   t.Embedding,
	}, "face-templates", t.Identity)
	if err != nil {
		return fmt.Errorf("push template %s: %w", t.Identity, err)
	}
	return nil
}
