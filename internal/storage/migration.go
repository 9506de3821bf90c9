package storage

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// CurrentSchemaVersion is the version of the last entry in migrations.
const CurrentSchemaVersion = 2

// migrations is the ordered list of SQLite schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS monitors (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL,
	active       INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1)),
	method       TEXT NOT NULL DEFAULT 'http',
	url          TEXT NOT NULL DEFAULT '',
	periodicity  INTEGER NOT NULL DEFAULT 60,
	regions      TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL DEFAULT '',
	provider     TEXT NOT NULL,
	data         TEXT NOT NULL DEFAULT '{}',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notifications_to_monitors (
	monitor_id      TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	notification_id TEXT NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (monitor_id, notification_id)
);

CREATE TABLE IF NOT EXISTS monitor_status (
	monitor_id TEXT NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	region     TEXT NOT NULL,
	status     TEXT NOT NULL CHECK(status IN ('active', 'error', 'degraded')),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (monitor_id, region)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS audit_log (
	event_id   TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	action     TEXT NOT NULL,
	targets    TEXT NOT NULL DEFAULT '[]',
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_subject ON audit_log(subject, created_at);
CREATE INDEX IF NOT EXISTS idx_subscriptions_notification ON notifications_to_monitors(notification_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
