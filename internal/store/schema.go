package store

// schemaVersion is recorded in the database's user_version pragma after a
// successful migration; Migrate skips databases already at this version.
const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
  session_id TEXT NOT NULL,
  event_id INTEGER NOT NULL,
  source TEXT NOT NULL,
  kind TEXT NOT NULL,
  body TEXT,
  payload TEXT,
  condensation TEXT,
  created_at TEXT NOT NULL,
  PRIMARY KEY (session_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);

CREATE TABLE IF NOT EXISTS controller_states (
  session_id TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  blob BLOB NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (session_id, user_id)
);
`
