package store

// migration holds one schema step and the version it brings the database to.
type migration struct {
	version int
	sql     string
}

// migrations must stay ordered with sequential versions starting at 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	folder          TEXT NOT NULL,
	message_id      TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL DEFAULT '',
	in_reply_to     TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	sender          TEXT NOT NULL DEFAULT '',
	sender_address  TEXT NOT NULL DEFAULT '',
	recipients      TEXT NOT NULL DEFAULT '[]',
	cc              TEXT NOT NULL DEFAULT '[]',
	received_at     INTEGER NOT NULL,
	flags           TEXT NOT NULL DEFAULT '[]',
	body            TEXT NOT NULL DEFAULT '',
	html_body       TEXT NOT NULL DEFAULT '',
	size            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS series (
	id        TEXT PRIMARY KEY,
	calendar  TEXT NOT NULL,
	subject   TEXT NOT NULL DEFAULT '',
	organizer TEXT NOT NULL DEFAULT '',
	location  TEXT NOT NULL DEFAULT '',
	attendees TEXT NOT NULL DEFAULT '[]',
	start_at  INTEGER NOT NULL,
	end_at    INTEGER NOT NULL,
	rule      TEXT NOT NULL DEFAULT '',
	show_as   INTEGER NOT NULL DEFAULT 2,
	body      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS exceptions (
	series_id   TEXT NOT NULL REFERENCES series(id) ON DELETE CASCADE,
	original_at INTEGER NOT NULL,
	cancelled   INTEGER NOT NULL DEFAULT 0,
	start_at    INTEGER NOT NULL DEFAULT 0,
	end_at      INTEGER NOT NULL DEFAULT 0,
	subject     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (series_id, original_at)
);

CREATE INDEX IF NOT EXISTS idx_messages_folder_received ON messages(folder, received_at);
CREATE INDEX IF NOT EXISTS idx_series_calendar_start ON series(calendar, start_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	list         TEXT NOT NULL,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL DEFAULT '',
	due_at       INTEGER NOT NULL DEFAULT 0,
	completed    INTEGER NOT NULL DEFAULT 0,
	completed_at INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS busy_blocks (
	id       TEXT PRIMARY KEY,
	attendee TEXT NOT NULL,
	start_at INTEGER NOT NULL,
	end_at   INTEGER NOT NULL,
	status   INTEGER NOT NULL DEFAULT 2
);

CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(list);
CREATE INDEX IF NOT EXISTS idx_busy_blocks_attendee ON busy_blocks(attendee, start_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS attachments (
	message_id   TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	data         BLOB NOT NULL,
	PRIMARY KEY (message_id, position)
);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
