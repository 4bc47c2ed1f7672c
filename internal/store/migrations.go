package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
//
// Version 1 holds the core columns every deployment has. The columns added
// in version 2 are optional: writes to them tolerate their absence so a
// database managed by an older schema keeps syncing.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS inbox_messages (
	identity_key        TEXT PRIMARY KEY,
	remote_mailbox      TEXT NOT NULL DEFAULT '',
	remote_uid_validity INTEGER NOT NULL DEFAULT 0,
	remote_uid          INTEGER NOT NULL DEFAULT 0,
	message_id          TEXT NOT NULL DEFAULT '',
	from_addr           TEXT NOT NULL DEFAULT '',
	to_addr             TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	body                TEXT NOT NULL DEFAULT '',
	body_loaded         INTEGER NOT NULL DEFAULT 0 CHECK(body_loaded IN (0, 1)),
	received_at         DATETIME NOT NULL,
	direction           TEXT NOT NULL DEFAULT 'inbound' CHECK(direction IN ('inbound', 'outbound')),
	intent              TEXT NOT NULL DEFAULT 'general_question',
	thread_key          TEXT NOT NULL DEFAULT '',
	in_reply_to         TEXT NOT NULL DEFAULT '',
	msg_references      TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'new'
		CHECK(status IN ('new', 'handled', 'skipped_auto', 'duplicate', 'error')),
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_inbox_messages_received_at ON inbox_messages(received_at);
CREATE INDEX IF NOT EXISTS idx_inbox_messages_mailbox_received ON inbox_messages(remote_mailbox, received_at);
CREATE INDEX IF NOT EXISTS idx_inbox_messages_status ON inbox_messages(status);
CREATE INDEX IF NOT EXISTS idx_inbox_messages_thread_key ON inbox_messages(thread_key);
CREATE INDEX IF NOT EXISTS idx_inbox_messages_message_id ON inbox_messages(message_id);

CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	identity_key TEXT NOT NULL,
	payload      TEXT NOT NULL DEFAULT '{}',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_identity_key ON events(identity_key);

CREATE TABLE IF NOT EXISTS sync_runs (
	mailbox     TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	lease_until INTEGER NOT NULL,
	finished_at INTEGER NOT NULL DEFAULT 0
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE inbox_messages ADD COLUMN important INTEGER CHECK(important IN (0, 1));
ALTER TABLE inbox_messages ADD COLUMN importance_reason TEXT NOT NULL DEFAULT '';
ALTER TABLE inbox_messages ADD COLUMN classified_via TEXT NOT NULL DEFAULT '';
ALTER TABLE inbox_messages ADD COLUMN draft_reply TEXT;
ALTER TABLE inbox_messages ADD COLUMN draft_updated_at DATETIME;

CREATE INDEX IF NOT EXISTS idx_inbox_messages_important ON inbox_messages(important);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
