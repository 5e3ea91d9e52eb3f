package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations for the sqlite
// deployment. Each migration's version must be sequential starting from 1.
// Postgres schemas are managed outside this module.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS delegates (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	email        TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_delegates_account_email
	ON delegates(account_id, email);

CREATE TABLE IF NOT EXISTS tasks (
	id                     TEXT PRIMARY KEY,
	account_id             TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	title                  TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	status                 TEXT NOT NULL DEFAULT 'open',
	reminder_at            DATETIME,
	reminder_sent_at       DATETIME,
	email_reminder_enabled INTEGER NOT NULL DEFAULT 0 CHECK(email_reminder_enabled IN (0, 1)),
	created_by_delegate_id TEXT,
	deleted_at             DATETIME,
	created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
	id                     TEXT PRIMARY KEY,
	account_id             TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	title                  TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	start_at               DATETIME NOT NULL,
	reminder_at            DATETIME,
	reminder_sent_at       DATETIME,
	email_reminder_enabled INTEGER NOT NULL DEFAULT 0 CHECK(email_reminder_enabled IN (0, 1)),
	created_by_delegate_id TEXT,
	deleted_at             DATETIME,
	created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS custom_reminders (
	id                     TEXT PRIMARY KEY,
	account_id             TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	title                  TEXT NOT NULL,
	message                TEXT NOT NULL DEFAULT '',
	remind_at              DATETIME NOT NULL,
	sent_at                DATETIME,
	email_enabled          INTEGER NOT NULL DEFAULT 1 CHECK(email_enabled IN (0, 1)),
	email_confirmed        INTEGER NOT NULL DEFAULT 0 CHECK(email_confirmed IN (0, 1)),
	created_by_delegate_id TEXT,
	deleted_at             DATETIME,
	created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(reminder_sent_at, reminder_at);
CREATE INDEX IF NOT EXISTS idx_events_due ON events(reminder_sent_at, reminder_at);
CREATE INDEX IF NOT EXISTS idx_custom_reminders_due ON custom_reminders(sent_at, remind_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_tasks_account_sent ON tasks(account_id, reminder_sent_at);
CREATE INDEX IF NOT EXISTS idx_events_account_sent ON events(account_id, reminder_sent_at);
CREATE INDEX IF NOT EXISTS idx_custom_reminders_account_sent ON custom_reminders(account_id, sent_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
