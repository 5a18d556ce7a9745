package service

import (
	"errors"

	"github.com/spec-kit/teams-ticket-relay/internal/graph"
	apperrors "github.com/spec-kit/teams-ticket-relay/pkg/util/errorutil"
)

// mapGraphError translates Graph failures into DomainErrors for the management API.
func mapGraphError(err error, what string) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	var apiErr *graph.APIError
	if errors.As(err, &apiErr) {
		details := map[string]any{
			"graph_status": apiErr.Status,
			"graph_code":   apiErr.Code,
		}
		if apiErr.RequestID != "" {
			details["request_id"] = apiErr.RequestID
		}
		switch apiErr.Kind {
		case graph.KindNotFound:
			return apperrors.NewNotFound(what, details)
		case graph.KindValidationTimeout:
			return apperrors.NewValidationTimeout(err, details)
		default:
			details["graph_message"] = apiErr.Message
			return apperrors.NewUpstreamError("graph request failed", err, details)
		}
	}
	if graph.IsAuthError(err) {
		return apperrors.NewUpstreamError("could not acquire graph token", err, nil)
	}
	return apperrors.NewUpstreamError("graph request failed", err, nil)
}
