package domain

import "time"

// Ticket is the record written to the external ticket store.
type Ticket struct {
	Title          string
	Description    string
	RequesterEmail string
	RequesterName  string
	ExternalKey    string
	Channel        string
	AttachmentURLs []string
	ApproverEmail  string
	ApproverName   string
	ApprovedAt     time.Time
	Source         string
	Status         string
	LastSyncedAt   time.Time
}

// TicketOutcome enumerates creation results.
type TicketOutcome string

const (
	TicketCreated       TicketOutcome = "CREATED"
	TicketAlreadyExists TicketOutcome = "ALREADY_EXISTS"
	TicketFailed        TicketOutcome = "FAILED"
)

// TicketResult is returned by ticket creation; duplicates are an outcome, not an error.
type TicketResult struct {
	Outcome TicketOutcome
	PageID  string
	Reason  string
}

// TrackedMessage is a message awaiting an approval reaction.
type TrackedMessage struct {
	Key       MessageKey
	FirstSeen time.Time
}
