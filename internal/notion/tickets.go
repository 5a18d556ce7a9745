package notion

import (
	"context"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
)

// Database property names.
const (
	PropTitle       = "Task Title"
	PropDescription = "Description"
	PropStatus      = "Status"
	PropRequester   = "Requester"
	PropMessageID   = "Teams Message ID"
	PropChannel     = "Teams Channel"
	PropAttachments = "Attachments"
	PropApprovedBy  = "Approved By"
	PropApprovedAt  = "Approved At"
	PropSource      = "Source"
	PropLastSynced  = "Last Synced"
)

const maxTextLength = 2000

type queryResponse struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

type pageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// FindTicket returns the page id of a ticket with the given external key, or "".
func (c *Client) FindTicket(ctx context.Context, externalKey string) (string, error) {
	body := map[string]any{
		"filter": map[string]any{
			"property":  PropMessageID,
			"rich_text": map[string]any{"equals": externalKey},
		},
		"page_size": 1,
	}
	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "databases/"+c.databaseID+"/query", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].ID, nil
}

// CreateTicket stores t unless a ticket with the same external key exists. A failed
// existence query does not block creation.
func (c *Client) CreateTicket(ctx context.Context, t domain.Ticket) (domain.TicketResult, error) {
	existing, err := c.FindTicket(ctx, t.ExternalKey)
	if err != nil {
		c.logger.Warn("ticket existence query failed, creating anyway",
			zap.String("external_key", t.ExternalKey), zap.Error(err))
	}
	if existing != "" {
		c.logger.Info("ticket already exists", zap.String("external_key", t.ExternalKey), zap.String("page_id", existing))
		return domain.TicketResult{Outcome: domain.TicketAlreadyExists, PageID: existing}, nil
	}

	page := map[string]any{
		"parent":     map[string]any{"database_id": c.databaseID},
		"properties": c.properties(ctx, t),
	}
	var resp pageResponse
	if err := c.do(ctx, http.MethodPost, "pages", page, &resp); err != nil {
		return domain.TicketResult{Outcome: domain.TicketFailed, Reason: err.Error()}, err
	}
	c.logger.Info("ticket created", zap.String("external_key", t.ExternalKey), zap.String("page_id", resp.ID))
	return domain.TicketResult{Outcome: domain.TicketCreated, PageID: resp.ID}, nil
}

func (c *Client) properties(ctx context.Context, t domain.Ticket) map[string]any {
	status := t.Status
	if status == "" {
		status = c.defaultStatus
	}
	source := t.Source
	if source == "" {
		source = c.source
	}
	approvedAt := t.ApprovedAt
	if approvedAt.IsZero() {
		approvedAt = c.now()
	}
	lastSynced := t.LastSyncedAt
	if lastSynced.IsZero() {
		lastSynced = c.now()
	}

	var attachment any
	if len(t.AttachmentURLs) > 0 {
		attachment = t.AttachmentURLs[0]
	}

	return map[string]any{
		PropTitle:       map[string]any{"title": textValue(t.Title)},
		PropDescription: map[string]any{"rich_text": textValue(t.Description)},
		PropStatus:      map[string]any{"status": map[string]any{"name": status}},
		PropRequester:   c.peopleValue(ctx, t.RequesterEmail),
		PropMessageID:   map[string]any{"rich_text": textValue(t.ExternalKey)},
		PropChannel:     map[string]any{"rich_text": textValue(t.Channel)},
		PropAttachments: map[string]any{"url": attachment},
		PropApprovedBy:  c.peopleValue(ctx, t.ApproverEmail),
		PropApprovedAt:  dateValue(approvedAt),
		PropSource:      map[string]any{"rich_text": textValue(source)},
		PropLastSynced:  dateValue(lastSynced),
	}
}

func (c *Client) peopleValue(ctx context.Context, email string) map[string]any {
	people := make([]map[string]any, 0, 1)
	if id := c.people.Lookup(ctx, email); id != "" {
		people = append(people, map[string]any{"id": id})
	} else if email != "" {
		c.logger.Warn("no notion user for email, leaving people property empty", zap.String("email", email))
	}
	return map[string]any{"people": people}
}

func textValue(content string) []map[string]any {
	return []map[string]any{{"text": map[string]any{"content": truncate(content, maxTextLength)}}}
}

func dateValue(t time.Time) map[string]any {
	return map[string]any{"date": map[string]any{"start": t.UTC().Format(time.RFC3339)}}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
