package sqlite

// Schema defines the SQLite schema for the Sage assistant core: the
// entity table (universal unit of storage), the flat relationship edge
// table, and the embedding table backing the vector index.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	id            TEXT PRIMARY KEY,
	entity_type   TEXT NOT NULL,
	source        TEXT,
	structured    TEXT,                       -- JSON payload, typed per entity_type
	analyzed      TEXT,                       -- JSON derived annotations
	relationships TEXT,                       -- JSON array: denormalized related IDs
	embedding_ref TEXT,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	event_time    TIMESTAMP,
	version       INTEGER NOT NULL DEFAULT 1,
	superseded_by TEXT,
	supersedes    TEXT,
	deleted_at    TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entities_type       ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_event_time ON entities(event_time);
CREATE INDEX IF NOT EXISTS idx_entities_superseded ON entities(superseded_by);

CREATE TABLE IF NOT EXISTS relationships (
	id         TEXT PRIMARY KEY,
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	rel_type   TEXT NOT NULL,
	metadata   TEXT,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(from_id, to_id, rel_type)
);

CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_rel_to   ON relationships(to_id);

CREATE TABLE IF NOT EXISTS embeddings (
	entity_id   TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	dimension   INTEGER NOT NULL,
	model       TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_embeddings_type ON embeddings(entity_type);
`
