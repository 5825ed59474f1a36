package preset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store persists presets in the presets table as JSON payloads.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new preset store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create validates p, assigns an id and timestamps, and stores it.
func (s *Store) Create(ctx context.Context, p Preset) (Preset, error) {
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}

	now := s.now().UTC().Truncate(time.Second)
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	payload, err := json.Marshal(p)
	if err != nil {
		return Preset{}, fmt.Errorf("failed to marshal preset: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO presets (id, name, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, string(payload), now.Unix(), now.Unix())
	if err != nil {
		return Preset{}, mapConstraint(err, p.Name)
	}

	log.Info().Str("preset", p.Name).Str("id", p.ID).Msg("Created preset")
	return p, nil
}

// Update replaces the stored parameters and name of an existing preset.
func (s *Store) Update(ctx context.Context, p Preset) (Preset, error) {
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}

	existing, err := s.Get(ctx, p.ID)
	if err != nil {
		return Preset{}, err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now().UTC().Truncate(time.Second)

	payload, err := json.Marshal(p)
	if err != nil {
		return Preset{}, fmt.Errorf("failed to marshal preset: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE presets SET name = ?, payload = ?, updated_at = ? WHERE id = ?
	`, p.Name, string(payload), p.UpdatedAt.Unix(), p.ID)
	if err != nil {
		return Preset{}, mapConstraint(err, p.Name)
	}
	return p, nil
}

// Delete removes a preset by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM presets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPresetNotFound, id)
	}
	return nil
}

// Get returns the preset with the given id.
func (s *Store) Get(ctx context.Context, id string) (Preset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM presets WHERE id = ?`, id)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, id)
	}
	return p, err
}

// Find looks a preset up by id, then by case-insensitive name, then by slug.
func (s *Store) Find(ctx context.Context, nameOrID string) (Preset, error) {
	if p, err := s.Get(ctx, nameOrID); err == nil {
		return p, nil
	} else if !errors.Is(err, ErrPresetNotFound) {
		return Preset{}, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT payload FROM presets WHERE name = ? COLLATE NOCASE`, nameOrID)
	p, err := scanPreset(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Preset{}, err
	}

	all, err := s.List(ctx)
	if err != nil {
		return Preset{}, err
	}
	slug := Slug(nameOrID)
	for _, p := range all {
		if p.Slug() == slug {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, nameOrID)
}

// List returns every preset ordered by name.
func (s *Store) List(ctx context.Context) ([]Preset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM presets ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPreset(row scanner) (Preset, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		return Preset{}, err
	}
	var p Preset
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return Preset{}, fmt.Errorf("failed to unmarshal preset: %w", err)
	}
	return p, nil
}

func mapConstraint(err error, name string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", ErrPresetExists, name)
	}
	return err
}
