package orchestrator

import (
	"github.com/fyrsmithlabs/bayitd/internal/extraction"
)

// ClarifySession holds the incomplete task items awaiting a date/time
// reply for one chat. At most one live session exists per chat; a new
// one supersedes the old.
type ClarifySession struct {
	HouseholdID string
	MemberID    string
	ChatID      string
	Items       []extraction.TaskItem
	Kind        extraction.Kind
	SourceType  string
	SourceRaw   string
}

// PollTask is one created task held by a calendar poll session.
type PollTask struct {
	ID          string
	Title       string
	Description string
	DueDate     string
	DueTime     string
}

// PollSession holds the tasks a sent calendar poll is asking about,
// keyed by the poll's correlation id. The attendee fields are resolved
// when the poll is sent so the vote handler needs no further lookups.
type PollSession struct {
	ChatID        string
	HouseholdID   string
	Tasks         []PollTask
	Options       [3]string
	AttendeeName  string
	AttendeeEmail string
}
