// Package orchestrator is the conversation core: it routes each inbound
// WhatsApp event to poll-vote handling, clarification-reply handling, or
// fresh-message extraction, and owns the two TTL-bound session tables
// that carry multi-turn state between events.
//
// Nothing here raises past HandleEvent: every downstream failure is
// logged and treated as "this step did not happen" without aborting
// sibling side effects.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bayitd/internal/calendar"
	"github.com/fyrsmithlabs/bayitd/internal/extraction"
	"github.com/fyrsmithlabs/bayitd/internal/push"
	"github.com/fyrsmithlabs/bayitd/internal/session"
	"github.com/fyrsmithlabs/bayitd/internal/store"
	"github.com/fyrsmithlabs/bayitd/internal/whatsapp"
)

// Source type tags recorded on task rows.
const (
	sourceText  = "whatsapp_text"
	sourceImage = "whatsapp_image"
	sourceVoice = "whatsapp_voice"
)

// Gateway sends and fetches through the WhatsApp provider.
type Gateway interface {
	SendMessage(ctx context.Context, chatID, message string) (string, error)
	SendPoll(ctx context.Context, chatID, question string, options []string) (string, error)
	ReadChat(ctx context.Context, chatID, messageID string) error
	DownloadMedia(ctx context.Context, downloadURL string) ([]byte, error)
}

// Extractor is the model boundary. ExtractTasks never fails (it falls
// back internally); ResolveDateTime propagates failure to the caller.
type Extractor interface {
	ExtractTasks(ctx context.Context, content string, kind extraction.Kind, imageBase64 string) extraction.Result
	ResolveDateTime(ctx context.Context, items []extraction.TaskItem, reply string) ([]extraction.TaskItem, error)
}

// TaskStore is the persistence boundary for tasks and members.
type TaskStore interface {
	CreateTask(ctx context.Context, t store.TaskInsert) (string, error)
	UpdateTaskCalendarEvent(ctx context.Context, taskID, eventID string) error
	MemberByPhone(ctx context.Context, phone string) (*store.Member, error)
	HouseholdMembers(ctx context.Context, householdID string) ([]store.Member, error)
}

// CalendarClient creates events. An empty returned id means the event
// was not created (unconfigured or failed); the client never raises.
type CalendarClient interface {
	CreateEvent(ctx context.Context, p calendar.EventParams) string
}

// Notifier fans out a push payload, best effort.
type Notifier interface {
	Notify(ctx context.Context, members []store.Member, payload push.Payload)
}

// Transcriber converts voice-note audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Config holds the session TTLs.
type Config struct {
	ClarifyTTL time.Duration
	PollTTL    time.Duration
}

// Deps are the downstream collaborators.
type Deps struct {
	Gateway     Gateway
	Extractor   Extractor
	Store       TaskStore
	Calendar    CalendarClient
	Notifier    Notifier
	Transcriber Transcriber
}

// Orchestrator routes inbound events and mutates session state.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger

	clarify *session.Table[ClarifySession]
	polls   *session.Table[PollSession]
}

// New creates an orchestrator with fresh session tables.
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.ClarifyTTL <= 0 {
		cfg.ClarifyTTL = 10 * time.Minute
	}
	if cfg.PollTTL <= 0 {
		cfg.PollTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:    deps,
		logger:  logger,
		clarify: session.NewTable[ClarifySession](cfg.ClarifyTTL),
		polls:   session.NewTable[PollSession](cfg.PollTTL),
	}
}

// Close stops all pending session timers.
func (o *Orchestrator) Close() {
	o.clarify.Close()
	o.polls.Close()
}

// HandleEvent processes one normalized inbound event. It never returns
// an error; all failures are logged and isolated to this event.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev whatsapp.Event) {
	switch body := ev.Body.(type) {
	case whatsapp.PollUpdate:
		o.handlePollVote(ctx, ev, body)
	default:
		o.handleMessage(ctx, ev)
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, ev whatsapp.Event) {
	phone := store.NormalizePhone(ev.Sender)

	member, err := o.deps.Store.MemberByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) || (err == nil && member == nil) {
		o.logger.Warn("unknown sender, discarding message", zap.String("phone", phone))
		return
	}
	if err != nil {
		o.logger.Error("member lookup failed", zap.String("phone", phone), zap.Error(err))
		return
	}

	if err := o.deps.Gateway.ReadChat(ctx, ev.ChatID, ev.ID); err != nil {
		o.logger.Debug("mark read failed", zap.String("chat_id", ev.ChatID), zap.Error(err))
	}

	text, imageBase64, kind, sourceType, ok := o.normalizeContent(ctx, ev)
	if !ok {
		return
	}
	if text == "" && imageBase64 == "" {
		return
	}

	// A live clarification session plus new text means this message is
	// the reply, not a fresh task. Take consumes the session: a second
	// reply starts a fresh cycle instead of appending to the old one.
	if text != "" {
		if sess, live := o.clarify.Take(ev.ChatID); live {
			o.resolveClarification(ctx, ev.ChatID, member, sess, text)
			return
		}
	}

	o.handleFreshMessage(ctx, ev.ChatID, member, text, imageBase64, kind, sourceType)
}

// normalizeContent extracts text and optional image payload per message
// type. ok=false means the event is a terminal no-op.
func (o *Orchestrator) normalizeContent(ctx context.Context, ev whatsapp.Event) (text, imageBase64 string, kind extraction.Kind, sourceType string, ok bool) {
	switch body := ev.Body.(type) {
	case whatsapp.Text:
		return body.Text, "", extraction.KindText, sourceText, true

	case whatsapp.Image:
		if body.DownloadURL == "" {
			o.logger.Warn("image message with no download url", zap.String("message_id", ev.ID))
			return "", "", "", "", false
		}
		data, err := o.deps.Gateway.DownloadMedia(ctx, body.DownloadURL)
		if err != nil {
			o.logger.Error("image download failed", zap.String("message_id", ev.ID), zap.Error(err))
			return "", "", "", "", false
		}
		return body.Caption, base64.StdEncoding.EncodeToString(data), extraction.KindImage, sourceImage, true

	case whatsapp.Audio:
		if body.DownloadURL == "" {
			o.logger.Warn("audio message with no download url", zap.String("message_id", ev.ID))
			return "", "", "", "", false
		}
		data, err := o.deps.Gateway.DownloadMedia(ctx, body.DownloadURL)
		if err != nil {
			o.logger.Error("audio download failed", zap.String("message_id", ev.ID), zap.Error(err))
			return "", "", "", "", false
		}
		transcript, err := o.deps.Transcriber.Transcribe(ctx, data)
		if err != nil {
			o.logger.Error("transcription failed", zap.String("message_id", ev.ID), zap.Error(err))
			return "", "", "", "", false
		}
		if transcript == "" {
			o.logger.Warn("empty transcription, nothing to extract", zap.String("message_id", ev.ID))
			return "", "", "", "", false
		}
		return transcript, "", extraction.KindVoice, sourceVoice, true

	default:
		o.logger.Debug("unsupported message body, discarding", zap.String("message_id", ev.ID))
		return "", "", "", "", false
	}
}

func (o *Orchestrator) handleFreshMessage(ctx context.Context, chatID string, member *store.Member, text, imageBase64 string, kind extraction.Kind, sourceType string) {
	isManual := false
	if after, found := strings.CutPrefix(text, manualPrefix); found {
		isManual = true
		text = strings.TrimSpace(after)
	}

	result := o.deps.Extractor.ExtractTasks(ctx, text, kind, imageBase64)
	if result.NotATask && !isManual {
		o.logger.Debug("not a task, skipping", zap.String("chat_id", chatID))
		return
	}

	var complete, incomplete []extraction.TaskItem
	for _, t := range result.Tasks {
		if t.Complete() {
			complete = append(complete, t)
		} else {
			incomplete = append(incomplete, t)
		}
	}

	// A single message can feed both branches: complete items are
	// persisted now, incomplete ones go through clarification.
	if len(complete) > 0 {
		o.createAndAnnounce(ctx, chatID, member, complete, sourceType, text, result.ReplySuggestion)
	}
	if len(incomplete) > 0 {
		o.promptClarification(ctx, chatID, member, incomplete, kind, sourceType, text)
	}
}

// resolveClarification feeds the held items plus the reply through
// date/time resolution. The session was already consumed by the caller.
func (o *Orchestrator) resolveClarification(ctx context.Context, chatID string, member *store.Member, sess ClarifySession, reply string) {
	items, err := o.deps.Extractor.ResolveDateTime(ctx, sess.Items, reply)
	if err != nil {
		o.logger.Error("date/time resolution failed", zap.String("chat_id", chatID), zap.Error(err))
		o.send(ctx, chatID, resolveErrorMessage)
		return
	}

	var complete, incomplete []extraction.TaskItem
	for _, t := range items {
		if t.Complete() {
			complete = append(complete, t)
		} else {
			incomplete = append(incomplete, t)
		}
	}

	if len(complete) > 0 {
		o.createAndAnnounce(ctx, chatID, member, complete, sess.SourceType, sess.SourceRaw, "")
	}
	if len(incomplete) > 0 {
		// Fresh session, fresh TTL. This can repeat across turns.
		o.promptClarification(ctx, chatID, member, incomplete, sess.Kind, sess.SourceType, sess.SourceRaw)
	}
}

func (o *Orchestrator) promptClarification(ctx context.Context, chatID string, member *store.Member, items []extraction.TaskItem, kind extraction.Kind, sourceType, sourceRaw string) {
	o.send(ctx, chatID, clarifyPrompt(items))
	o.clarify.Put(chatID, ClarifySession{
		HouseholdID: member.HouseholdID,
		MemberID:    member.ID,
		ChatID:      chatID,
		Items:       items,
		Kind:        kind,
		SourceType:  sourceType,
		SourceRaw:   sourceRaw,
	})
}

// createAndAnnounce persists the complete items, then confirms, pushes,
// and opens the calendar poll. Each side effect fails independently.
func (o *Orchestrator) createAndAnnounce(ctx context.Context, chatID string, member *store.Member, items []extraction.TaskItem, sourceType, sourceRaw, replySuggestion string) {
	var created []PollTask
	var createdItems []extraction.TaskItem
	for _, t := range items {
		id, err := o.deps.Store.CreateTask(ctx, store.TaskInsert{
			HouseholdID:        member.HouseholdID,
			Title:              t.Title,
			Description:        t.Description,
			Icon:               t.Icon,
			Category:           t.Category,
			DueDate:            t.DueDate,
			DueTime:            t.DueTime,
			SourceType:         sourceType,
			SourceRaw:          sourceRaw,
			NeedsCalendarEvent: t.NeedsCalendarEvent,
			AIConfidence:       t.Confidence,
			ReplySuggestion:    replySuggestion,
		})
		if err != nil {
			o.logger.Error("task creation failed", zap.String("title", t.Title), zap.Error(err))
			continue
		}
		created = append(created, PollTask{
			ID:          id,
			Title:       t.Title,
			Description: t.Description,
			DueDate:     t.DueDate,
			DueTime:     t.DueTime,
		})
		createdItems = append(createdItems, t)
	}
	if len(created) == 0 {
		return
	}

	o.send(ctx, chatID, confirmMessage(createdItems))

	members, err := o.deps.Store.HouseholdMembers(ctx, member.HouseholdID)
	if err != nil {
		o.logger.Error("household members lookup failed", zap.String("household_id", member.HouseholdID), zap.Error(err))
	} else {
		taskIDs := make([]string, len(created))
		lines := ""
		for i, t := range created {
			taskIDs[i] = t.ID
			if i > 0 {
				lines += "\n"
			}
			lines += fmt.Sprintf("%s %s", createdItems[i].Icon, t.Title)
		}
		o.deps.Notifier.Notify(ctx, members, push.Payload{
			Title: pushTitle,
			Body:  lines,
			Icon:  pushIcon,
			Data:  map[string]any{"type": "new_tasks", "task_ids": taskIDs},
		})
	}

	o.sendCalendarPoll(ctx, chatID, member, members, created)
}

// sendCalendarPoll asks whether to put the new tasks on a calendar and
// registers the poll session under the gateway's correlation id.
func (o *Orchestrator) sendCalendarPoll(ctx context.Context, chatID string, sender *store.Member, members []store.Member, tasks []PollTask) {
	attendeeName, attendeeEmail := secondAttendee(members, sender.ID)

	options := [3]string{optionYesMe, optionYesBoth(attendeeName), optionNo}
	corrID, err := o.deps.Gateway.SendPoll(ctx, chatID, pollQuestion(len(tasks)), options[:])
	if err != nil {
		o.logger.Error("poll send failed", zap.String("chat_id", chatID), zap.Error(err))
		return
	}

	o.polls.Put(corrID, PollSession{
		ChatID:        chatID,
		HouseholdID:   sender.HouseholdID,
		Tasks:         tasks,
		Options:       options,
		AttendeeName:  attendeeName,
		AttendeeEmail: attendeeEmail,
	})
}

// secondAttendee picks the first household member other than the sender
// as the named invitee for the poll's "both of us" option.
func secondAttendee(members []store.Member, senderID string) (name, email string) {
	for _, m := range members {
		if m.ID == senderID {
			continue
		}
		return m.Name, m.Email
	}
	return "", ""
}

func (o *Orchestrator) handlePollVote(ctx context.Context, ev whatsapp.Event, vote whatsapp.PollUpdate) {
	sess, ok := o.polls.Get(vote.CorrelationID)
	if !ok {
		o.logger.Debug("vote for unknown or expired poll, discarding",
			zap.String("correlation_id", vote.CorrelationID))
		return
	}

	// First option whose voter list contains the sender wins; if the
	// gateway ever reports the voter under several options the earlier
	// one in the vote list takes precedence.
	chosen := ""
	for _, v := range vote.Votes {
		if slices.Contains(v.OptionVoters, ev.Sender) {
			chosen = v.OptionName
			break
		}
	}
	if chosen == "" {
		// No recognized vote yet; leave the session for a later update.
		return
	}

	// Consume before acting so a replayed or concurrently delivered
	// duplicate vote is a no-op. Take is the atomicity point: only one
	// delivery gets the session back.
	if _, ok := o.polls.Take(vote.CorrelationID); !ok {
		return
	}

	switch chosen {
	case sess.Options[0]:
		o.createCalendarEvents(ctx, sess, false)
	case sess.Options[1]:
		o.createCalendarEvents(ctx, sess, true)
	default:
		o.send(ctx, sess.ChatID, declineMessage)
	}
}

// createCalendarEvents attempts one event per held task. Failures are
// independent; the summary reports how many succeeded.
func (o *Orchestrator) createCalendarEvents(ctx context.Context, sess PollSession, invite bool) {
	var attendees []string
	invitedName := ""
	if invite && sess.AttendeeEmail != "" {
		attendees = []string{sess.AttendeeEmail}
		invitedName = sess.AttendeeName
	}

	succeeded := 0
	for _, t := range sess.Tasks {
		eventID := o.deps.Calendar.CreateEvent(ctx, calendar.EventParams{
			Title:          t.Title,
			Description:    t.Description,
			Date:           t.DueDate,
			Time:           t.DueTime,
			AttendeeEmails: attendees,
		})
		if eventID == "" {
			continue
		}
		succeeded++
		if err := o.deps.Store.UpdateTaskCalendarEvent(ctx, t.ID, eventID); err != nil {
			o.logger.Error("failed to record calendar event id",
				zap.String("task_id", t.ID), zap.Error(err))
		}
	}

	o.send(ctx, sess.ChatID, calendarSummaryMessage(succeeded, invitedName))
}

func (o *Orchestrator) send(ctx context.Context, chatID, text string) {
	if _, err := o.deps.Gateway.SendMessage(ctx, chatID, text); err != nil {
		o.logger.Error("message send failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}
