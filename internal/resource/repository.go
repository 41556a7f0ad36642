package resource

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is the stored form of a real resource.
type Record struct {
	ID        int64     `json:"id"`
	ParentID  int64     `json:"parent_id,omitempty"` // 0 for top-level resources
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Value     []byte    `json:"value,omitempty"` // JSON-encoded payload
	Active    bool      `json:"active"`
	Decorator bool      `json:"decorator"`
	Owner     string    `json:"owner,omitempty"`
	TargetID  int64     `json:"target_id,omitempty"` // referenced resource, 0 if not a reference
	Modified  time.Time `json:"modified"`
}

// Repository defines the interface for resource persistence operations.
// This abstraction allows for different implementations (SQLite, Badger,
// mock) and enables unit testing without database dependencies.
type Repository interface {
	// List returns every stored record ordered by id.
	List(ctx context.Context) ([]Record, error)

	// Save inserts or replaces the given records atomically.
	Save(ctx context.Context, records []Record) error

	// Delete removes the records with the given ids atomically.
	// Unknown ids are ignored.
	Delete(ctx context.Context, ids []int64) error
}

// record builds the stored form of n.
func (n *node) record() (Record, error) {
	rec := Record{
		ID:        n.id,
		Name:      n.name,
		Type:      n.typ.name,
		Active:    n.active,
		Decorator: n.decorator,
		Owner:     n.owner,
		Modified:  n.modified,
	}
	if n.parent != nil {
		rec.ParentID = n.parent.id
	}
	if n.target != nil {
		rec.TargetID = n.target.id
		return rec, nil
	}
	value, err := EncodeValue(n.value)
	if err != nil {
		return Record{}, fmt.Errorf("resource %s: %w", n.path(), err)
	}
	rec.Value = value
	return rec, nil
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns every stored record ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `
		SELECT id, parent_id, name, type, value, active, decorator, owner,
			target_id, modified_at
		FROM resources
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying resources: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			parentID  sql.NullInt64
			targetID  sql.NullInt64
			value     sql.NullString
			owner     sql.NullString
			active    int
			decorator int
			modified  string
		)
		if err := rows.Scan(&rec.ID, &parentID, &rec.Name, &rec.Type, &value,
			&active, &decorator, &owner, &targetID, &modified); err != nil {
			return nil, fmt.Errorf("scanning resource: %w", err)
		}
		rec.ParentID = parentID.Int64
		rec.TargetID = targetID.Int64
		if value.Valid {
			rec.Value = []byte(value.String)
		}
		rec.Owner = owner.String
		rec.Active = active != 0
		rec.Decorator = decorator != 0
		if rec.Modified, err = time.Parse(time.RFC3339Nano, modified); err != nil {
			return nil, fmt.Errorf("parsing modified_at of resource %d: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating resources: %w", err)
	}
	return records, nil
}

// Save inserts or replaces the given records in one transaction.
func (r *SQLiteRepository) Save(ctx context.Context, records []Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	query := `
		INSERT INTO resources (
			id, parent_id, name, type, value, active, decorator, owner,
			target_id, modified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			name = excluded.name,
			type = excluded.type,
			value = excluded.value,
			active = excluded.active,
			decorator = excluded.decorator,
			owner = excluded.owner,
			target_id = excluded.target_id,
			modified_at = excluded.modified_at`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			nullInt(rec.ParentID),
			rec.Name,
			rec.Type,
			nullBytes(rec.Value),
			boolToInt(rec.Active),
			boolToInt(rec.Decorator),
			nullString(rec.Owner),
			nullInt(rec.TargetID),
			rec.Modified.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("saving resource %d: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing resources: %w", err)
	}
	return nil
}

// Delete removes the records with the given ids in one transaction.
func (r *SQLiteRepository) Delete(ctx context.Context, ids []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting resource %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
