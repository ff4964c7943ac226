package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/bayitd/internal/extraction"
)

// manualPrefix forces task creation even when the model would classify
// the message as non-actionable.
const manualPrefix = "משימה:"

// Fixed poll option labels. The "both" label names the second attendee
// when one is known.
const (
	optionYesMe = "כן, הוסף ליומן שלי"
	optionNo    = "לא, תודה"
)

const (
	resolveErrorMessage = "מצטער, לא הצלחתי להבין 🙏 אפשר לשלוח שוב?"
	declineMessage      = "בסדר, לא נוסיף ליומן 👍"

	pushTitle = "משימה חדשה בבית 🏠"
	pushIcon  = "/icons/icon-192x192.png"
)

func optionYesBoth(attendeeName string) string {
	if attendeeName == "" {
		return "כן, הוסף ליומן של שנינו"
	}
	return fmt.Sprintf("כן, הוסף ליומן שלי ושל %s", attendeeName)
}

func confirmMessage(items []extraction.TaskItem) string {
	lines := make([]string, 0, len(items))
	for _, t := range items {
		lines = append(lines, fmt.Sprintf("%s %s", t.Icon, t.Title))
	}
	if len(items) == 1 {
		return "✅ נוספה משימה חדשה:\n" + lines[0]
	}
	return fmt.Sprintf("✅ נוספו %d משימות חדשות:\n%s", len(items), strings.Join(lines, "\n"))
}

// clarifyPrompt lists, per item, exactly which of date/time is still
// missing.
func clarifyPrompt(items []extraction.TaskItem) string {
	var b strings.Builder
	b.WriteString("כדי לקבוע תזכורת חסרים לי כמה פרטים:\n")
	for _, t := range items {
		missing := t.MissingFields()
		fmt.Fprintf(&b, "%s %s: חסר %s\n", t.Icon, t.Title, strings.Join(missing, " ו"))
	}
	b.WriteString("אפשר לענות כאן ואשלים 🙂")
	return b.String()
}

func pollQuestion(n int) string {
	if n == 1 {
		return "רוצים שאוסיף את המשימה ליומן? 📅"
	}
	return fmt.Sprintf("רוצים שאוסיף את %d המשימות ליומן? 📅", n)
}

func calendarSummaryMessage(created int, attendeeName string) string {
	if created == 0 {
		return "לא הצלחתי להוסיף ליומן כרגע, נסו שוב מאוחר יותר 🙏"
	}

	var msg string
	if created == 1 {
		msg = "האירוע נוסף ליומן 📅"
	} else {
		msg = fmt.Sprintf("%d אירועים נוספו ליומן 📅", created)
	}
	if attendeeName != "" {
		msg += fmt.Sprintf("\nהזמנה נשלחה גם ל%s ✉️", attendeeName)
	}
	return msg
}
