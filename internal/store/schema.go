package store

// schema is applied on every Open; CREATE TABLE IF NOT EXISTS keeps it
// idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS households (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	invite_code TEXT NOT NULL UNIQUE,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS members (
	id                TEXT PRIMARY KEY,
	household_id      TEXT NOT NULL REFERENCES households(id) ON DELETE CASCADE,
	name              TEXT NOT NULL,
	phone             TEXT,
	email             TEXT,
	role              TEXT NOT NULL DEFAULT 'member',
	push_subscription TEXT,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_members_phone ON members(phone);
CREATE INDEX IF NOT EXISTS idx_members_household ON members(household_id);

CREATE TABLE IF NOT EXISTS tasks (
	id                   TEXT PRIMARY KEY,
	household_id         TEXT NOT NULL REFERENCES households(id) ON DELETE CASCADE,
	status               TEXT NOT NULL DEFAULT 'pending',
	title                TEXT NOT NULL,
	description          TEXT,
	owner_id             TEXT REFERENCES members(id) ON DELETE SET NULL,
	icon                 TEXT NOT NULL DEFAULT '📝',
	category             TEXT NOT NULL DEFAULT 'כללי',
	due_date             TEXT,
	due_time             TEXT,
	calendar_event_id    TEXT,
	source_type          TEXT NOT NULL DEFAULT 'manual',
	source_raw           TEXT,
	needs_calendar_event INTEGER NOT NULL DEFAULT 0,
	ai_confidence        REAL NOT NULL DEFAULT 0,
	reply_suggestion     TEXT,
	approved_at          TIMESTAMP,
	completed_at         TIMESTAMP,
	created_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_household ON tasks(household_id);
CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(household_id, due_date);
`
