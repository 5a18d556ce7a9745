package worker

import (
	"github.com/spec-kit/teams-ticket-relay/internal/service"
)

// StartEventWorker registers the event log handlers.
func StartEventWorker(eventLog *service.EventLogService) {
	if eventLog == nil {
		return
	}
	eventLog.RegisterHandlers()
}
