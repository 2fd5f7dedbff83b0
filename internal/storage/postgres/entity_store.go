package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/scrypster/sage/internal/storage"
	"github.com/scrypster/sage/pkg/types"
)

// Store is the PostgreSQL entity store. One Store serves all entity types;
// callers partition by the entity_type column.
type Store struct {
	db *sql.DB
}

var _ storage.EntityStore = (*Store)(nil)

// NewStore opens a PostgreSQL connection and applies the schema.
func NewStore(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle so the vector index can share it.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Store upserts an entity. Re-storing an existing ID with a different
// entity_type fails with ErrTypeConflict. A non-zero Metadata.Version must
// match the stored version or the write fails with ErrVersionConflict.
func (s *Store) Store(ctx context.Context, entity *types.Entity) error {
	if entity == nil || entity.ID == "" {
		return fmt.Errorf("%w: entity id required", storage.ErrInvalidInput)
	}
	if !types.IsValidEntityType(entity.EntityType) {
		return fmt.Errorf("%w: unknown entity type %q", storage.ErrInvalidInput, entity.EntityType)
	}

	var existingType string
	var existingVersion int
	err := s.db.QueryRowContext(ctx,
		`SELECT entity_type, version FROM entities WHERE id = $1`, entity.ID).
		Scan(&existingType, &existingVersion)
	switch {
	case err == sql.ErrNoRows:
		return s.insert(ctx, entity)
	case err != nil:
		return fmt.Errorf("postgres: lookup %s: %w", entity.ID, err)
	}

	if existingType != entity.EntityType {
		return fmt.Errorf("%w: id %s is %s, attempted write as %s",
			storage.ErrTypeConflict, entity.ID, existingType, entity.EntityType)
	}
	if entity.Metadata.Version != 0 && entity.Metadata.Version != existingVersion {
		return fmt.Errorf("%w: id %s stored version %d, caller held %d",
			storage.ErrVersionConflict, entity.ID, existingVersion, entity.Metadata.Version)
	}
	return s.update(ctx, entity, existingVersion)
}

func (s *Store) insert(ctx context.Context, entity *types.Entity) error {
	structured, analyzed, rels, err := marshalFields(entity)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if entity.Metadata.CreatedAt.IsZero() {
		entity.Metadata.CreatedAt = now
	}
	entity.Metadata.UpdatedAt = now
	entity.Metadata.Version = 1

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities
		    (id, entity_type, source, structured, analyzed, relationships,
		     embedding_ref, created_at, updated_at, event_time, version,
		     superseded_by, supersedes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1,$11,$12)`,
		entity.ID, entity.EntityType, entity.Source,
		structured, analyzed, rels,
		nullStr(entity.EmbeddingRef),
		entity.Metadata.CreatedAt, entity.Metadata.UpdatedAt,
		nullTime(entity.Metadata.Timestamp),
		nullStr(entity.Metadata.SupersededBy), nullStr(entity.Metadata.Supersedes))
	if err != nil {
		return fmt.Errorf("postgres: insert %s: %w", entity.ID, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, entity *types.Entity, heldVersion int) error {
	structured, analyzed, rels, err := marshalFields(entity)
	if err != nil {
		return err
	}
	entity.Metadata.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET
		    source = $1, structured = $2, analyzed = $3, relationships = $4,
		    embedding_ref = $5, updated_at = $6, event_time = $7,
		    superseded_by = $8, supersedes = $9,
		    version = version + 1, deleted_at = NULL
		WHERE id = $10 AND version = $11`,
		entity.Source, structured, analyzed, rels,
		nullStr(entity.EmbeddingRef), entity.Metadata.UpdatedAt,
		nullTime(entity.Metadata.Timestamp),
		nullStr(entity.Metadata.SupersededBy), nullStr(entity.Metadata.Supersedes),
		entity.ID, heldVersion)
	if err != nil {
		return fmt.Errorf("postgres: update %s: %w", entity.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: id %s lost update race", storage.ErrVersionConflict, entity.ID)
	}
	entity.Metadata.Version = heldVersion + 1
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id required", storage.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx,
		selectColumns+` FROM entities WHERE id = $1 AND deleted_at IS NULL`, id)
	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", id, err)
	}
	return entity, nil
}

const selectColumns = `SELECT id, entity_type, source, structured, analyzed,
	relationships, embedding_ref, created_at, updated_at, event_time,
	version, superseded_by, supersedes, deleted_at`

var structuredFieldRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var entityColumns = map[string]string{
	"id":          "id",
	"entity_type": "entity_type",
	"source":      "source",
	"created_at":  "created_at",
	"updated_at":  "updated_at",
	"event_time":  "event_time",
}

// filterSQL renders one filter to a WHERE fragment with $n placeholders.
func filterSQL(f storage.Filter, args *[]interface{}) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}

	var column string
	switch {
	case strings.HasPrefix(f.Field, "structured."):
		key := strings.TrimPrefix(f.Field, "structured.")
		if !structuredFieldRe.MatchString(key) {
			return "", fmt.Errorf("%w: bad structured field %q", storage.ErrInvalidInput, f.Field)
		}
		column = fmt.Sprintf("structured->>'%s'", key)
	default:
		col, ok := entityColumns[f.Field]
		if !ok {
			return "", fmt.Errorf("%w: unknown filter field %q", storage.ErrInvalidInput, f.Field)
		}
		column = col
	}

	place := func(v interface{}) string {
		*args = append(*args, encodeFilterValue(v))
		return fmt.Sprintf("$%d", len(*args))
	}

	switch f.Op {
	case storage.OpEq:
		return fmt.Sprintf("%s = %s", column, place(f.Value)), nil
	case storage.OpGte:
		return fmt.Sprintf("%s >= %s", column, place(f.Value)), nil
	case storage.OpLte:
		return fmt.Sprintf("%s <= %s", column, place(f.Value)), nil
	case storage.OpIn:
		if len(f.Values) == 0 {
			return "", fmt.Errorf("%w: IN filter on %q has no values", storage.ErrInvalidInput, f.Field)
		}
		marks := make([]string, len(f.Values))
		for i, v := range f.Values {
			marks[i] = place(v)
		}
		return fmt.Sprintf("%s IN (%s)", column, strings.Join(marks, ", ")), nil
	default:
		return "", fmt.Errorf("%w: unknown filter op %q", storage.ErrInvalidInput, f.Op)
	}
}

func encodeFilterValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return storage.EncodeTime(t)
	case types.FollowupStatus:
		return string(t)
	default:
		return v
	}
}

// Query returns entities matching the options. Superseded entities are
// excluded unless IncludeSuperseded is set; soft-deleted rows never surface.
func (s *Store) Query(ctx context.Context, opts storage.QueryOptions) ([]*types.Entity, error) {
	opts.Normalize()

	var where []string
	var args []interface{}

	where = append(where, "deleted_at IS NULL")
	if !opts.IncludeSuperseded {
		where = append(where, "superseded_by IS NULL")
	}
	if opts.EntityType != "" {
		args = append(args, opts.EntityType)
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	for _, f := range opts.Filters {
		frag, err := filterSQL(f, &args)
		if err != nil {
			return nil, err
		}
		where = append(where, frag)
	}

	dir := "DESC"
	if opts.SortAsc {
		dir = "ASC"
	}
	args = append(args, opts.Limit)
	query := fmt.Sprintf("%s FROM entities WHERE %s ORDER BY %s %s NULLS LAST LIMIT $%d",
		selectColumns, strings.Join(where, " AND "), opts.SortBy, dir, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete soft-deletes an entity. Relationships and embeddings are left in
// place; joins against entities hide them.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: entity %s", storage.ErrNotFound, id)
	}
	return nil
}

// MarkSuperseded sets both supersession pointers in one transaction.
func (s *Store) MarkSuperseded(ctx context.Context, oldID, newID string) error {
	if oldID == "" || newID == "" || oldID == newID {
		return fmt.Errorf("%w: supersession needs two distinct ids", storage.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin supersede: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE entities SET superseded_by = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		newID, time.Now().UTC(), oldID)
	if err != nil {
		return fmt.Errorf("postgres: supersede %s: %w", oldID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entity %s", storage.ErrNotFound, oldID)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE entities SET supersedes = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		oldID, time.Now().UTC(), newID)
	if err != nil {
		return fmt.Errorf("postgres: supersede %s: %w", newID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entity %s", storage.ErrNotFound, newID)
	}
	return tx.Commit()
}

// CompareAndSetStatus flips structured.status from expect to next, guarded
// inside the UPDATE so concurrent writers cannot both win.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, expect, next types.FollowupStatus) (bool, error) {
	if !types.IsValidFollowupTransition(expect, next) {
		return false, fmt.Errorf("%w: transition %s -> %s not allowed", storage.ErrInvalidInput, expect, next)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET structured = jsonb_set(structured, '{status}', to_jsonb($1::text)),
		    updated_at = $2,
		    version = version + 1
		WHERE id = $3
		  AND deleted_at IS NULL
		  AND structured->>'status' = $4`,
		string(next), time.Now().UTC(), id, string(expect))
	if err != nil {
		return false, fmt.Errorf("postgres: cas status %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM entities WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&exists); err == sql.ErrNoRows {
			return false, fmt.Errorf("%w: entity %s", storage.ErrNotFound, id)
		}
		log.Printf("postgres: cas status %s lost race (wanted %s -> %s)", id, expect, next)
		return false, nil
	}
	return true, nil
}

func marshalFields(entity *types.Entity) (structured, analyzed, rels []byte, err error) {
	if entity.Structured == nil {
		entity.Structured = map[string]interface{}{}
	}
	structured, err = json.Marshal(entity.Structured)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal structured: %w", err)
	}
	analyzed, err = json.Marshal(entity.Analyzed)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal analyzed: %w", err)
	}
	if entity.Relationships == nil {
		entity.Relationships = []string{}
	}
	rels, err = json.Marshal(entity.Relationships)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: marshal relationships: %w", err)
	}
	return structured, analyzed, rels, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var e types.Entity
	var structured, analyzed, rels []byte
	var source, embeddingRef, supersededBy, supersedes sql.NullString
	var eventTime, deletedAt sql.NullTime

	err := row.Scan(&e.ID, &e.EntityType, &source, &structured, &analyzed,
		&rels, &embeddingRef, &e.Metadata.CreatedAt, &e.Metadata.UpdatedAt,
		&eventTime, &e.Metadata.Version, &supersededBy, &supersedes, &deletedAt)
	if err != nil {
		return nil, err
	}

	e.Source = source.String
	e.EmbeddingRef = embeddingRef.String
	e.Metadata.SupersededBy = supersededBy.String
	e.Metadata.Supersedes = supersedes.String
	if eventTime.Valid {
		e.Metadata.Timestamp = eventTime.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		e.Metadata.DeletedAt = &t
	}
	if len(structured) > 0 {
		if err := json.Unmarshal(structured, &e.Structured); err != nil {
			return nil, fmt.Errorf("unmarshal structured: %w", err)
		}
	}
	if len(analyzed) > 0 {
		if err := json.Unmarshal(analyzed, &e.Analyzed); err != nil {
			return nil, fmt.Errorf("unmarshal analyzed: %w", err)
		}
	}
	if len(rels) > 0 {
		if err := json.Unmarshal(rels, &e.Relationships); err != nil {
			return nil, fmt.Errorf("unmarshal relationships: %w", err)
		}
	}
	return &e, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
