package notion

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const peopleCacheTTL = 15 * time.Minute

type notionUser struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Person *struct {
		Email string `json:"email"`
	} `json:"person,omitempty"`
}

type usersPage struct {
	Results    []notionUser `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor"`
}

// peopleDirectory maps workspace member emails to Notion user ids.
type peopleDirectory struct {
	client *Client
	ttl    time.Duration

	mu       sync.Mutex
	byEmail  map[string]string
	loadedAt time.Time
}

func newPeopleDirectory(client *Client, ttl time.Duration) *peopleDirectory {
	return &peopleDirectory{client: client, ttl: ttl, byEmail: make(map[string]string)}
}

// Lookup returns the Notion user id for email, or "" when no person matches.
func (d *peopleDirectory) Lookup(ctx context.Context, email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}

	d.mu.Lock()
	id, ok := d.byEmail[email]
	fresh := !d.loadedAt.IsZero() && d.client.now().Sub(d.loadedAt) < d.ttl
	d.mu.Unlock()
	if ok || fresh {
		return id
	}

	users, err := d.load(ctx)
	if err != nil {
		d.client.logger.Warn("list notion users failed", zap.Error(err))
		return ""
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byEmail = users
	d.loadedAt = d.client.now()
	return d.byEmail[email]
}

func (d *peopleDirectory) load(ctx context.Context) (map[string]string, error) {
	users := make(map[string]string)
	cursor := ""
	for {
		path := "users?page_size=100"
		if cursor != "" {
			path += "&start_cursor=" + url.QueryEscape(cursor)
		}
		var page usersPage
		if err := d.client.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Results {
			if u.Type != "person" || u.Person == nil || u.Person.Email == "" {
				continue
			}
			users[strings.ToLower(u.Person.Email)] = u.ID
		}
		if !page.HasMore || page.NextCursor == "" {
			return users, nil
		}
		cursor = page.NextCursor
	}
}
