// Package extraction turns free-form WhatsApp content into structured
// household tasks using Anthropic's messages API.
//
// ExtractTasks never returns an error: it retries once and then falls
// back to a degraded single-item result. ResolveDateTime has no
// fallback; the caller owns that failure path.
package extraction

// Kind classifies the source content handed to the model.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVoice Kind = "voice"
)

// Task categories; the model is instructed to pick from this closed set.
const (
	CategoryHome     = "בית"
	CategoryChildren = "ילדים"
	CategoryFinances = "כספים"
	CategoryHealth   = "בריאות"
	CategoryShopping = "קניות"
	CategoryVehicle  = "רכב"
	CategoryGeneral  = "כללי"
)

// TaskItem is one extracted task candidate.
type TaskItem struct {
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	SuggestedOwner     string  `json:"suggested_owner,omitempty"`
	DueDate            string  `json:"due_date,omitempty"` // YYYY-MM-DD
	DueTime            string  `json:"due_time,omitempty"` // HH:mm
	Category           string  `json:"category"`
	Icon               string  `json:"icon"`
	NeedsCalendarEvent bool    `json:"needs_calendar_event"`
	Confidence         float64 `json:"confidence"`
}

// Complete reports whether both due date and due time are present.
// Incomplete items go through the clarification flow.
func (t TaskItem) Complete() bool {
	return t.DueDate != "" && t.DueTime != ""
}

// MissingFields names the date/time fields the item still lacks, in a
// fixed order (date before time).
func (t TaskItem) MissingFields() []string {
	var missing []string
	if t.DueDate == "" {
		missing = append(missing, "תאריך")
	}
	if t.DueTime == "" {
		missing = append(missing, "שעה")
	}
	return missing
}

// Result is the model's answer for one inbound message.
type Result struct {
	Tasks           []TaskItem `json:"tasks"`
	NotATask        bool       `json:"not_a_task"`
	ReplySuggestion string     `json:"reply_suggestion,omitempty"`
}
