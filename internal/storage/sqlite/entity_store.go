package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// Store implements storage.EntityStore, storage.RelationshipStore, and
// storage.VectorIndex using a single SQLite database.
type Store struct {
	db *sql.DB
}

// Ensure *Store implements storage.EntityStore at compile time.
var _ storage.EntityStore = (*Store)(nil)

// NewStore opens a SQLite database, configures WAL mode, and creates the
// schema. Use ":memory:" for tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s failed: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetDB exposes the underlying connection for composed providers.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store creates or updates an entity (upsert semantics keyed on ID).
// A pre-existing row with a different entity_type fails loudly with
// ErrTypeConflict. When the caller supplies a non-zero metadata version,
// the write is guarded by an optimistic version check.
func (s *Store) Store(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if !types.IsValidEntityType(entity.EntityType) {
		return fmt.Errorf("%w: unknown entity type %q", storage.ErrInvalidInput, entity.EntityType)
	}

	structuredJSON, analyzedJSON, relationshipsJSON, err := marshalEntityJSON(entity)
	if err != nil {
		return err
	}

	now := time.Now()
	if entity.Metadata.CreatedAt.IsZero() {
		entity.Metadata.CreatedAt = now
	}
	entity.Metadata.UpdatedAt = now

	var curType string
	var curVersion int
	err = s.db.QueryRowContext(ctx,
		`SELECT entity_type, version FROM entities WHERE id = ?`, entity.ID,
	).Scan(&curType, &curVersion)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		entity.Metadata.Version = 1
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO entities (
				id, entity_type, source, structured, analyzed, relationships,
				embedding_ref, created_at, updated_at, event_time, version,
				superseded_by, supersedes, deleted_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entity.ID,
			entity.EntityType,
			entity.Source,
			nullableBytes(structuredJSON),
			nullableBytes(analyzedJSON),
			nullableBytes(relationshipsJSON),
			nullableString(entity.EmbeddingRef),
			entity.Metadata.CreatedAt,
			entity.Metadata.UpdatedAt,
			nullableTime(&entity.Metadata.Timestamp),
			entity.Metadata.Version,
			nullableString(entity.Metadata.SupersededBy),
			nullableString(entity.Metadata.Supersedes),
			nullableTime(entity.Metadata.DeletedAt),
		)
		if err != nil {
			return fmt.Errorf("sqlite: failed to insert entity: %w", err)
		}
		return nil

	case err != nil:
		return fmt.Errorf("sqlite: failed to read existing entity: %w", err)
	}

	if curType != entity.EntityType {
		return fmt.Errorf("%w: id %s is %s, got %s",
			storage.ErrTypeConflict, entity.ID, curType, entity.EntityType)
	}

	// Version 0 means the caller did not read first (idempotent re-ingest
	// behind the facade's per-ID lock); any other value must match.
	if entity.Metadata.Version != 0 && entity.Metadata.Version != curVersion {
		return fmt.Errorf("%w: id %s at version %d, caller had %d",
			storage.ErrVersionConflict, entity.ID, curVersion, entity.Metadata.Version)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET
			source = ?, structured = ?, analyzed = ?, relationships = ?,
			embedding_ref = ?, updated_at = ?, event_time = ?,
			version = version + 1,
			superseded_by = ?, supersedes = ?, deleted_at = ?
		WHERE id = ? AND version = ?`,
		entity.Source,
		nullableBytes(structuredJSON),
		nullableBytes(analyzedJSON),
		nullableBytes(relationshipsJSON),
		nullableString(entity.EmbeddingRef),
		entity.Metadata.UpdatedAt,
		nullableTime(&entity.Metadata.Timestamp),
		nullableString(entity.Metadata.SupersededBy),
		nullableString(entity.Metadata.Supersedes),
		nullableTime(entity.Metadata.DeletedAt),
		entity.ID,
		curVersion,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update entity: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		// Raced with another writer between the read and the update.
		return fmt.Errorf("%w: id %s changed during write", storage.ErrVersionConflict, entity.ID)
	}

	entity.Metadata.Version = curVersion + 1
	return nil
}

// Get retrieves an entity by ID. Soft-deleted entities are not returned.
func (s *Store) Get(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, selectEntityColumns+`
		FROM entities WHERE id = ? AND deleted_at IS NULL`, id)

	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get entity: %w", err)
	}
	return entity, nil
}

// structuredFieldRe whitelists structured-payload keys used in filters.
var structuredFieldRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// entityColumns whitelists plain columns addressable in filters.
var entityColumns = map[string]string{
	"id":          "id",
	"entity_type": "entity_type",
	"source":      "source",
	"created_at":  "created_at",
	"updated_at":  "updated_at",
	"event_time":  "event_time",
}

// filterSQL converts a storage.Filter into a SQL fragment plus args.
// Structured-payload fields ("structured.<key>") are addressed through
// json_extract; time values are encoded as UTC RFC3339 so that string
// comparison matches chronological order.
func filterSQL(f storage.Filter) (string, []interface{}, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}

	var col string
	switch {
	case strings.HasPrefix(f.Field, "structured."):
		key := strings.TrimPrefix(f.Field, "structured.")
		if !structuredFieldRe.MatchString(key) {
			return "", nil, fmt.Errorf("%w: bad structured field %q", storage.ErrInvalidInput, key)
		}
		col = fmt.Sprintf("json_extract(structured, '$.%s')", key)
	default:
		mapped, ok := entityColumns[f.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown filter field %q", storage.ErrInvalidInput, f.Field)
		}
		col = mapped
	}

	switch f.Op {
	case storage.OpEq:
		return col + " = ?", []interface{}{encodeFilterValue(f.Value)}, nil
	case storage.OpGte:
		return col + " >= ?", []interface{}{encodeFilterValue(f.Value)}, nil
	case storage.OpLte:
		return col + " <= ?", []interface{}{encodeFilterValue(f.Value)}, nil
	case storage.OpIn:
		placeholders := make([]string, len(f.Values))
		args := make([]interface{}, len(f.Values))
		for i, v := range f.Values {
			placeholders[i] = "?"
			args[i] = encodeFilterValue(v)
		}
		return col + " IN (" + strings.Join(placeholders, ", ") + ")", args, nil
	}
	return "", nil, fmt.Errorf("%w: unknown filter op %q", storage.ErrInvalidInput, f.Op)
}

func encodeFilterValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case time.Time:
		return storage.EncodeTime(tv)
	case types.FollowupStatus:
		return string(tv)
	default:
		return v
	}
}

// Query runs a structured query. Superseded entities are excluded unless
// opts.IncludeSuperseded is set.
func (s *Store) Query(ctx context.Context, opts storage.QueryOptions) ([]*types.Entity, error) {
	opts.Normalize()

	var conds []string
	var args []interface{}

	conds = append(conds, "deleted_at IS NULL")
	if !opts.IncludeSuperseded {
		conds = append(conds, "superseded_by IS NULL")
	}
	if opts.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, opts.EntityType)
	}

	for _, f := range opts.Filters {
		frag, fargs, err := filterSQL(f)
		if err != nil {
			return nil, err
		}
		conds = append(conds, frag)
		args = append(args, fargs...)
	}

	order := "DESC"
	if opts.SortAsc {
		order = "ASC"
	}

	query := selectEntityColumns + `
		FROM entities
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY ` + opts.SortBy + ` ` + order + `
		LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []*types.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: query scan: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query rows: %w", err)
	}

	return entities, nil
}

// Delete soft-deletes an entity by setting deleted_at.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now(), time.Now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete entity: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkSuperseded sets the supersession pointers on both entities in one
// transaction. Neither record changes otherwise: supersession is additive,
// never destructive.
func (s *Store) MarkSuperseded(ctx context.Context, oldID, newID string) error {
	if oldID == "" || newID == "" {
		return fmt.Errorf("%w: both IDs are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin supersede tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()

	res, err := tx.ExecContext(ctx,
		`UPDATE entities SET superseded_by = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND deleted_at IS NULL`, newID, now, oldID)
	if err != nil {
		return fmt.Errorf("sqlite: mark superseded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: old entity %s", storage.ErrNotFound, oldID)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE entities SET supersedes = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND deleted_at IS NULL`, oldID, now, newID)
	if err != nil {
		return fmt.Errorf("sqlite: mark supersedes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: new entity %s", storage.ErrNotFound, newID)
	}

	return tx.Commit()
}

// CompareAndSetStatus atomically swaps structured.status from expect to
// next. The guard is evaluated inside the UPDATE so a concurrently
// committed terminal status makes the swap a no-op: replies always win
// over timer-driven transitions.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, expect, next types.FollowupStatus) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if !types.IsValidFollowupTransition(expect, next) {
		return false, fmt.Errorf("%w: transition %s -> %s not allowed", storage.ErrInvalidInput, expect, next)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET
			structured = json_set(structured, '$.status', ?),
			updated_at = ?,
			version = version + 1
		WHERE id = ?
		  AND deleted_at IS NULL
		  AND json_extract(structured, '$.status') = ?`,
		string(next), time.Now(), id, string(expect))
	if err != nil {
		return false, fmt.Errorf("sqlite: compare-and-set status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return affected == 1, nil
}

const selectEntityColumns = `
	SELECT
		id, entity_type, source, structured, analyzed, relationships,
		embedding_ref, created_at, updated_at, event_time, version,
		superseded_by, supersedes, deleted_at`

// rowScanner abstracts *sql.Row and *sql.Rows for scanEntity.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var entity types.Entity
	var structuredJSON, analyzedJSON, relationshipsJSON sql.NullString
	var source, embeddingRef, supersededBy, supersedes sql.NullString
	var eventTime, deletedAt sql.NullTime

	err := row.Scan(
		&entity.ID,
		&entity.EntityType,
		&source,
		&structuredJSON,
		&analyzedJSON,
		&relationshipsJSON,
		&embeddingRef,
		&entity.Metadata.CreatedAt,
		&entity.Metadata.UpdatedAt,
		&eventTime,
		&entity.Metadata.Version,
		&supersededBy,
		&supersedes,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	entity.Source = source.String
	entity.EmbeddingRef = embeddingRef.String
	entity.Metadata.SupersededBy = supersededBy.String
	entity.Metadata.Supersedes = supersedes.String
	if eventTime.Valid {
		entity.Metadata.Timestamp = eventTime.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		entity.Metadata.DeletedAt = &t
	}

	if structuredJSON.Valid && structuredJSON.String != "" {
		if err := json.Unmarshal([]byte(structuredJSON.String), &entity.Structured); err != nil {
			return nil, fmt.Errorf("unmarshal structured: %w", err)
		}
	}
	if analyzedJSON.Valid && analyzedJSON.String != "" {
		if err := json.Unmarshal([]byte(analyzedJSON.String), &entity.Analyzed); err != nil {
			return nil, fmt.Errorf("unmarshal analyzed: %w", err)
		}
	}
	if relationshipsJSON.Valid && relationshipsJSON.String != "" {
		if err := json.Unmarshal([]byte(relationshipsJSON.String), &entity.Relationships); err != nil {
			return nil, fmt.Errorf("unmarshal relationships: %w", err)
		}
	}

	return &entity, nil
}

func marshalEntityJSON(entity *types.Entity) (structured, analyzed, relationships []byte, err error) {
	if entity.Structured != nil {
		structured, err = json.Marshal(entity.Structured)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal structured: %w", err)
		}
	}

	analyzed, err = json.Marshal(entity.Analyzed)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal analyzed: %w", err)
	}

	if len(entity.Relationships) > 0 {
		relationships, err = json.Marshal(entity.Relationships)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal relationships: %w", err)
		}
	}
	return structured, analyzed, relationships, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}
