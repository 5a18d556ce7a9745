package graph

import (
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	apperrors "github.com/spec-kit/teams-ticket-relay/pkg/util/errorutil"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func TestNormalizeTeamsResourceForcesCreatedAndCapsExpiration(t *testing.T) {
	exp := fixedNow.Add(72 * time.Hour)
	cases := []string{
		"/teams/T1/channels/C1/messages",
		"teams/T1/channels/C1/messages",
		"/teams/getAllMessages/messages",
	}
	for _, resource := range cases {
		req, err := Normalize(NormalizeInput{
			Resource:                 resource,
			ChangeTypes:              []string{"created", "updated", "deleted"},
			NotificationURL:          "https://relay.example.com/graph/validate",
			LifecycleNotificationURL: "https://relay.example.com/webhook/lifecycle",
			Expiration:               &exp,
			ClientState:              "secret",
		}, fixedNow)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", resource, err)
		}
		if req.ChangeType != domain.ChangeCreated {
			t.Fatalf("%s: expected change type created, got %q", resource, req.ChangeType)
		}
		if !strings.HasPrefix(req.Resource, "/") {
			t.Fatalf("%s: expected leading slash, got %q", resource, req.Resource)
		}
		parsed, err := time.Parse(time.RFC3339Nano, req.ExpirationDateTime)
		if err != nil {
			t.Fatalf("%s: parse expiration: %v", resource, err)
		}
		if parsed.After(fixedNow.Add(time.Hour)) {
			t.Fatalf("%s: expiration %s exceeds one hour", resource, req.ExpirationDateTime)
		}
		if len(req.Adjustments) == 0 {
			t.Fatalf("%s: expected adjustments to be recorded", resource)
		}
	}
}

func TestNormalizeTeamsResourceRequiresLifecycleURL(t *testing.T) {
	_, err := Normalize(NormalizeInput{
		Resource:        "/teams/T1/channels/C1/messages",
		ChangeTypes:     []string{"created"},
		NotificationURL: "https://relay.example.com/graph/validate",
		ClientState:     "secret",
	}, fixedNow)
	if err == nil {
		t.Fatal("expected error for missing lifecycle url")
	}
	if !apperrors.IsCode(err, "CONFIG_ERROR") {
		t.Fatalf("expected CONFIG_ERROR, got %v", err)
	}
}

func TestNormalizeOtherResourcePassesChangeTypesThrough(t *testing.T) {
	exp := fixedNow.Add(48 * time.Hour)
	req, err := Normalize(NormalizeInput{
		Resource:        "users/u1/messages",
		ChangeTypes:     []string{"updated", "deleted"},
		NotificationURL: "https://relay.example.com/graph/validate",
		Expiration:      &exp,
		ClientState:     "secret",
	}, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ChangeType != "updated,deleted" {
		t.Fatalf("expected change types untouched, got %q", req.ChangeType)
	}
	if req.LifecycleNotificationURL != "" {
		t.Fatalf("expected no lifecycle url, got %q", req.LifecycleNotificationURL)
	}
	if req.ExpirationDateTime != FormatExpiration(exp) {
		t.Fatalf("expected expiration untouched, got %s", req.ExpirationDateTime)
	}
}

func TestNormalizeDefaultsExpirationToOneHour(t *testing.T) {
	req, err := Normalize(NormalizeInput{
		Resource:        "/users/u1/mailFolders('inbox')/messages",
		ChangeTypes:     []string{"created"},
		NotificationURL: "https://relay.example.com/graph/validate",
	}, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ExpirationDateTime != FormatExpiration(fixedNow.Add(time.Hour)) {
		t.Fatalf("unexpected default expiration %s", req.ExpirationDateTime)
	}
}

func TestNormalizeExpirationRoundTrip(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*60*60)
	exp := fixedNow.Add(30 * time.Minute).In(local)
	req, err := Normalize(NormalizeInput{
		Resource:                 "/teams/T1/channels/C1/messages",
		ChangeTypes:              []string{"created"},
		NotificationURL:          "https://relay.example.com/graph/validate",
		LifecycleNotificationURL: "https://relay.example.com/webhook/lifecycle",
		Expiration:               &exp,
	}, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(req.ExpirationDateTime, "Z") || strings.Contains(req.ExpirationDateTime, "+00:00") {
		t.Fatalf("expected Z suffix, got %s", req.ExpirationDateTime)
	}
	parsed, err := time.Parse(time.RFC3339Nano, req.ExpirationDateTime)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Truncate(time.Second).Equal(exp.Truncate(time.Second)) {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, exp)
	}
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	if _, err := Normalize(NormalizeInput{NotificationURL: "https://x"}, fixedNow); err == nil {
		t.Fatal("expected error for empty resource")
	}
	if _, err := Normalize(NormalizeInput{Resource: "/users", ChangeTypes: []string{"created"}}, fixedNow); err == nil {
		t.Fatal("expected error for empty notification url")
	}
	if _, err := Normalize(NormalizeInput{Resource: "/users", NotificationURL: "https://x"}, fixedNow); !apperrors.IsCode(err, "CONFIG_ERROR") {
		t.Fatalf("expected config error for empty change types, got %v", err)
	}
	teams := NormalizeInput{
		Resource:                 "/teams/T1/channels/C1/messages",
		NotificationURL:          "https://x",
		LifecycleNotificationURL: "https://x/lifecycle",
	}
	req, err := Normalize(teams, fixedNow)
	if err != nil || req.ChangeType != "created" {
		t.Fatalf("teams resource with no change types: got %q %v", req.ChangeType, err)
	}
}

func TestCapExpiration(t *testing.T) {
	requested := fixedNow.Add(72 * time.Hour)
	if got := CapExpiration("/teams/T1/channels/C1/messages", requested, fixedNow); !got.Equal(fixedNow.Add(time.Hour)) {
		t.Fatalf("teams cap: got %s", got)
	}
	if got := CapExpiration("/users/u1/events", requested, fixedNow); !got.Equal(requested) {
		t.Fatalf("default cap: got %s", got)
	}
	if got := CapExpiration("/users/u1/events", fixedNow.Add(100*time.Hour), fixedNow); !got.Equal(fixedNow.Add(72 * time.Hour)) {
		t.Fatalf("default cap over limit: got %s", got)
	}
}
