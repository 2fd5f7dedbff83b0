// Package postgres provides PostgreSQL implementations of the storage
// interfaces, with pgvector-accelerated similarity search for corpora that
// outgrow the in-process SQLite scoring path.
package postgres

// Schema contains the SQL statements to create the Sage schema for
// PostgreSQL. The embedding_vec column and its ivfflat index are created
// separately (see ensurePgvector) because they require the pgvector
// extension.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    id            TEXT PRIMARY KEY,
    entity_type   TEXT NOT NULL,
    source        TEXT,
    structured    JSONB,
    analyzed      JSONB,
    relationships JSONB,
    embedding_ref TEXT,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
    metadata   JSONB,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(from_id, to_id, rel_type)
);

CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_rel_to   ON relationships(to_id);

CREATE TABLE IF NOT EXISTS embeddings (
    entity_id   TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    dimension   INTEGER NOT NULL,
    model       TEXT NOT NULL,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_embeddings_type ON embeddings(entity_type);
`

// pgvectorSchema is applied only when the pgvector extension is available.
const pgvectorSchema = `
ALTER TABLE embeddings ADD COLUMN IF NOT EXISTS embedding_vec vector;

CREATE INDEX IF NOT EXISTS idx_embeddings_vec_cosine
    ON embeddings USING ivfflat (embedding_vec vector_cosine_ops);
`
