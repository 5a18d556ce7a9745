package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/teams-ticket-relay/internal/domain"
	apperrors "github.com/spec-kit/teams-ticket-relay/pkg/util/errorutil"
)

// ExpirationLayout is the UTC form Graph expects; always Z-suffixed.
const ExpirationLayout = "2006-01-02T15:04:05.0000000Z"

// NormalizeInput carries caller-supplied subscription parameters.
type NormalizeInput struct {
	Resource                 string
	ChangeTypes              []string
	NotificationURL          string
	LifecycleNotificationURL string
	Expiration               *time.Time
	ClientState              string
}

// Normalize applies Graph's resource-specific subscription rules. It performs no I/O;
// every rule it had to apply is listed in the returned request's Adjustments.
//
// Teams channel-message resources always subscribe to created only, so their change
// types are replaced rather than checked. Any other resource is passed through as
// given and must name at least one change type, since Graph rejects a subscription
// without one; an empty list fails with a CONFIG_ERROR.
func Normalize(in NormalizeInput, now time.Time) (domain.SubscriptionRequest, error) {
	now = now.UTC()
	var adjustments []string

	resource := strings.TrimSpace(in.Resource)
	if resource == "" {
		return domain.SubscriptionRequest{}, apperrors.NewConfigError("resource is required", nil)
	}
	if !strings.HasPrefix(resource, "/") {
		resource = "/" + resource
		adjustments = append(adjustments, "resource prefixed with '/'")
	}
	if strings.TrimSpace(in.NotificationURL) == "" {
		return domain.SubscriptionRequest{}, apperrors.NewConfigError("notification url is required", nil)
	}

	expiration := now.Add(domain.TeamsMessageMaxLifetime)
	if in.Expiration != nil {
		expiration = in.Expiration.UTC()
	}

	changeTypes := in.ChangeTypes
	if domain.IsTeamsMessageResource(resource) {
		if len(changeTypes) != 1 || changeTypes[0] != domain.ChangeCreated {
			adjustments = append(adjustments, fmt.Sprintf("change types %v reduced to [created]", changeTypes))
			changeTypes = []string{domain.ChangeCreated}
		}
		if expiration.Sub(now) > domain.TeamsMessageMaxLifetime {
			adjustments = append(adjustments, "expiration capped to 1 hour")
			expiration = now.Add(domain.TeamsMessageMaxLifetime)
		}
		if strings.TrimSpace(in.LifecycleNotificationURL) == "" {
			return domain.SubscriptionRequest{}, apperrors.NewConfigError(
				"lifecycle notification url is required for Teams message subscriptions",
				map[string]any{"resource": resource},
			)
		}
	} else if len(changeTypes) == 0 {
		return domain.SubscriptionRequest{}, apperrors.NewConfigError("at least one change type is required", nil)
	}

	return domain.SubscriptionRequest{
		Resource:                 resource,
		ChangeType:               strings.Join(changeTypes, ","),
		NotificationURL:          in.NotificationURL,
		LifecycleNotificationURL: in.LifecycleNotificationURL,
		ExpirationDateTime:       FormatExpiration(expiration),
		ClientState:              in.ClientState,
		Adjustments:              adjustments,
	}, nil
}

// FormatExpiration renders t in Graph's UTC layout.
func FormatExpiration(t time.Time) string {
	return t.UTC().Format(ExpirationLayout)
}

// CapExpiration clamps requested to the resource's maximum lifetime from now.
func CapExpiration(resource string, requested, now time.Time) time.Time {
	limit := now.Add(domain.MaxLifetimeFor(resource))
	if requested.After(limit) {
		return limit
	}
	return requested
}
