package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
)

const personaColumns = `id, name, description, icon, color, instructions, allowed_backends_json,
	can_orchestrate, default_backend, default_max_tokens, default_temperature, sort_order, deleted_at`

// PersonaStore implements persona.Registry over SQLite.
type PersonaStore struct {
	db *sql.DB
}

// Get resolves a live persona by id or case-insensitive name.
func (s *PersonaStore) Get(ctx context.Context, nameOrID string) (persona.Persona, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE id = ? AND deleted_at IS NULL`, nameOrID)
	p, err := scanPersona(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return persona.Persona{}, storeErr("get persona", err).WithContext("persona", nameOrID)
	}

	all, err := s.All(ctx)
	if err != nil {
		return persona.Persona{}, err
	}
	key := persona.NormalizeName(nameOrID)
	for _, p := range all {
		if p.Key() == key {
			return p, nil
		}
	}
	return persona.Persona{}, cerrors.NotFound("persona", nameOrID)
}

// All returns live personas ordered by sort order, then name.
func (s *PersonaStore) All(ctx context.Context) ([]persona.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, storeErr("list personas", err)
	}
	defer rows.Close()

	var out []persona.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, storeErr("scan persona", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list personas", err)
	}
	persona.Sort(out)
	return out, nil
}

// Upsert inserts or replaces p. A missing id is generated.
func (s *PersonaStore) Upsert(ctx context.Context, p persona.Persona) (persona.Persona, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return persona.Persona{}, cerrors.InvalidInput("persona name is required")
	}
	if p.ID == "" {
		p.ID = persona.NewID()
	}
	backends, err := encodeList(p.AllowedBackends)
	if err != nil {
		return persona.Persona{}, storeErr("encode allowed backends", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personas (`+personaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			icon = excluded.icon,
			color = excluded.color,
			instructions = excluded.instructions,
			allowed_backends_json = excluded.allowed_backends_json,
			can_orchestrate = excluded.can_orchestrate,
			default_backend = excluded.default_backend,
			default_max_tokens = excluded.default_max_tokens,
			default_temperature = excluded.default_temperature,
			sort_order = excluded.sort_order,
			deleted_at = excluded.deleted_at
	`,
		p.ID, p.Name, p.Description, p.Icon, p.Color, p.Instructions, backends,
		p.CanOrchestrate, p.DefaultBackend, p.DefaultMaxTokens, p.DefaultTemperature,
		p.SortOrder, nullTime(p.DeletedAt),
	)
	if err != nil {
		return persona.Persona{}, storeErr("upsert persona", err).WithContext("persona", p.Name)
	}
	return p, nil
}

// SoftDelete marks a live persona deleted.
func (s *PersonaStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE personas SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, at.UTC(), id)
	if err != nil {
		return storeErr("delete persona", err).WithContext("persona", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return cerrors.NotFound("persona", id)
	}
	return nil
}

func scanPersona(row scanner) (persona.Persona, error) {
	var (
		p        persona.Persona
		backends string
		deleted  sql.NullTime
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Icon, &p.Color, &p.Instructions, &backends,
		&p.CanOrchestrate, &p.DefaultBackend, &p.DefaultMaxTokens, &p.DefaultTemperature,
		&p.SortOrder, &deleted,
	); err != nil {
		return persona.Persona{}, err
	}
	list, err := decodeList(backends)
	if err != nil {
		return persona.Persona{}, err
	}
	p.AllowedBackends = list
	if deleted.Valid {
		t := deleted.Time
		p.DeletedAt = &t
	}
	return p, nil
}

var _ persona.Registry = (*PersonaStore)(nil)
