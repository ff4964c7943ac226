// Package store provides the sqlite-backed task and member store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the sqlite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Warmup verifies the database is reachable.
func (s *Store) Warmup(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM households").Scan(&n); err != nil {
		return fmt.Errorf("warmup query failed: %w", err)
	}
	return nil
}

// PushSubscription is a member's stored web-push subscription.
type PushSubscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

// PushKeys are the VAPID subscription keys.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Member is a household participant.
type Member struct {
	ID               string
	HouseholdID      string
	Name             string
	Phone            string
	Email            string
	Role             string
	PushSubscription *PushSubscription
}

// TaskInsert is the column set for a new task record.
type TaskInsert struct {
	HouseholdID        string
	Title              string
	Description        string
	Icon               string
	Category           string
	DueDate            string
	DueTime            string
	SourceType         string
	SourceRaw          string
	NeedsCalendarEvent bool
	AIConfidence       float64
	ReplySuggestion    string
}

// DueTask is a task row selected for the daily summary.
type DueTask struct {
	Title     string
	Icon      string
	DueTime   string
	Status    string
	OwnerName string
}

// NormalizePhone strips spaces, dashes, a leading plus, and the
// WhatsApp chat suffix from a phone number.
func NormalizePhone(phone string) string {
	phone = strings.TrimSuffix(phone, "@c.us")
	phone = strings.NewReplacer(" ", "", "-", "", "+", "").Replace(phone)
	return phone
}

// CreateTask inserts a new pending task and returns its id.
func (s *Store) CreateTask(ctx context.Context, t TaskInsert) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, household_id, status, title, description, icon, category,
			due_date, due_time, source_type, source_raw,
			needs_calendar_event, ai_confidence, reply_suggestion
		) VALUES (?, ?, 'pending', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.HouseholdID, t.Title, nullable(t.Description), t.Icon, t.Category,
		nullable(t.DueDate), nullable(t.DueTime), t.SourceType, nullable(t.SourceRaw),
		t.NeedsCalendarEvent, t.AIConfidence, nullable(t.ReplySuggestion),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert task: %w", err)
	}
	return id, nil
}

// UpdateTaskCalendarEvent records the external calendar event id on a task.
func (s *Store) UpdateTaskCalendarEvent(ctx context.Context, taskID, eventID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET calendar_event_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		eventID, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update calendar event id: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// MemberByPhone finds a member by normalized phone number.
// Returns ErrNotFound when the sender is unknown.
func (s *Store) MemberByPhone(ctx context.Context, phone string) (*Member, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, household_id, name, COALESCE(phone, ''), COALESCE(email, ''),
		       COALESCE(role, ''), push_subscription
		FROM members WHERE phone = ?`,
		NormalizePhone(phone),
	)
	return scanMember(row)
}

// HouseholdMembers lists all members of a household.
func (s *Store) HouseholdMembers(ctx context.Context, householdID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, household_id, name, COALESCE(phone, ''), COALESCE(email, ''),
		       COALESCE(role, ''), push_subscription
		FROM members WHERE household_id = ?`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// TasksDueOn lists open tasks due on the given date (YYYY-MM-DD),
// ordered by due time.
func (s *Store) TasksDueOn(ctx context.Context, householdID, date string) ([]DueTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.title, t.icon, COALESCE(t.due_time, ''), t.status, COALESCE(m.name, '')
		FROM tasks t
		LEFT JOIN members m ON m.id = t.owner_id
		WHERE t.household_id = ? AND t.due_date = ?
		  AND t.status NOT IN ('done', 'rejected')
		ORDER BY t.due_time IS NULL, t.due_time`,
		householdID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []DueTask
	for rows.Next() {
		var t DueTask
		if err := rows.Scan(&t.Title, &t.Icon, &t.DueTime, &t.Status, &t.OwnerName); err != nil {
			return nil, fmt.Errorf("failed to scan due task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Households lists all household ids that have at least one member
// with a phone number. Used by the daily summary.
func (s *Store) Households(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT household_id FROM members WHERE phone IS NOT NULL AND phone != ''",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query households: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan household id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (*Member, error) {
	var m Member
	var subJSON sql.NullString
	err := row.Scan(&m.ID, &m.HouseholdID, &m.Name, &m.Phone, &m.Email, &m.Role, &subJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan member: %w", err)
	}

	if subJSON.Valid && subJSON.String != "" {
		var sub PushSubscription
		if err := json.Unmarshal([]byte(subJSON.String), &sub); err == nil && sub.Endpoint != "" {
			m.PushSubscription = &sub
		}
	}
	return &m, nil
}

// nullable maps empty strings to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
