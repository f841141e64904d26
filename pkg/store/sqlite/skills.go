package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/skills"
)

const skillColumns = `id, name, description, when_to_use, category, tags_json, trigger_text, body,
	scope_json, sort_order, version, allowed_tools_json, dir`

// SkillStore implements skills.Catalog over SQLite.
type SkillStore struct {
	db *sql.DB
}

// Skills lists live skills passing f, ordered by id. Scope is matched in
// Go because it is stored as JSON.
func (s *SkillStore) Skills(ctx context.Context, f skills.Filter) ([]skills.Skill, error) {
	query := `SELECT ` + skillColumns + ` FROM skills WHERE deleted_at IS NULL`
	var args []any
	if len(f.Categories) > 0 {
		query += ` AND lower(category) IN (?` + strings.Repeat(`, ?`, len(f.Categories)-1) + `)`
		for _, c := range f.Categories {
			args = append(args, strings.ToLower(c))
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list skills", err)
	}
	defer rows.Close()

	var out []skills.Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, storeErr("scan skill", err)
		}
		if f.Match(sk) {
			out = append(out, sk)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list skills", err)
	}
	return out, nil
}

// Get resolves a live skill by id or case-insensitive name; the lowest id
// wins when names collide.
func (s *SkillStore) Get(ctx context.Context, nameOrID string) (skills.Skill, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE id = ? AND deleted_at IS NULL`, nameOrID)
	sk, err := scanSkill(row)
	if err == nil {
		return sk, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return skills.Skill{}, storeErr("get skill", err).WithContext("skill", nameOrID)
	}

	all, err := s.Skills(ctx, skills.Filter{})
	if err != nil {
		return skills.Skill{}, err
	}
	name := strings.TrimSpace(nameOrID)
	for _, sk := range all {
		if strings.EqualFold(sk.Name, name) {
			return sk, nil
		}
	}
	return skills.Skill{}, cerrors.NotFound("skill", nameOrID)
}

// Upsert inserts or replaces sk. The id defaults to the name and the
// version to 1.
func (s *SkillStore) Upsert(ctx context.Context, sk skills.Skill) (skills.Skill, error) {
	sk.Name = strings.TrimSpace(sk.Name)
	if sk.Name == "" {
		return skills.Skill{}, cerrors.InvalidInput("skill name is required")
	}
	if strings.TrimSpace(sk.Body) == "" {
		return skills.Skill{}, cerrors.InvalidInput("skill body is required").WithContext("skill", sk.Name)
	}
	if sk.ID == "" {
		sk.ID = sk.Name
	}
	if sk.Version <= 0 {
		sk.Version = 1
	}
	sort.Strings(sk.Scope)

	tags, err := encodeList(sk.Tags)
	if err != nil {
		return skills.Skill{}, storeErr("encode tags", err)
	}
	scope, err := encodeList(sk.Scope)
	if err != nil {
		return skills.Skill{}, storeErr("encode scope", err)
	}
	tools, err := encodeList(sk.AllowedTools)
	if err != nil {
		return skills.Skill{}, storeErr("encode allowed tools", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skills (`+skillColumns+`, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			when_to_use = excluded.when_to_use,
			category = excluded.category,
			tags_json = excluded.tags_json,
			trigger_text = excluded.trigger_text,
			body = excluded.body,
			scope_json = excluded.scope_json,
			sort_order = excluded.sort_order,
			version = excluded.version,
			allowed_tools_json = excluded.allowed_tools_json,
			dir = excluded.dir,
			deleted_at = NULL
	`,
		sk.ID, sk.Name, sk.Description, sk.WhenToUse, sk.Category, tags, sk.Trigger, sk.Body,
		scope, sk.SortOrder, sk.Version, tools, sk.Dir,
	)
	if err != nil {
		return skills.Skill{}, storeErr("upsert skill", err).WithContext("skill", sk.Name)
	}
	return sk, nil
}

// SoftDelete marks a live skill deleted.
func (s *SkillStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE skills SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, at.UTC(), id)
	if err != nil {
		return storeErr("delete skill", err).WithContext("skill", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return cerrors.NotFound("skill", id)
	}
	return nil
}

// Sync upserts every skill in ss. Used to mirror a SKILL.md directory.
func (s *SkillStore) Sync(ctx context.Context, ss []skills.Skill) error {
	for _, sk := range ss {
		if _, err := s.Upsert(ctx, sk); err != nil {
			return err
		}
	}
	return nil
}

func scanSkill(row scanner) (skills.Skill, error) {
	var (
		sk                 skills.Skill
		tags, scope, tools string
	)
	if err := row.Scan(
		&sk.ID, &sk.Name, &sk.Description, &sk.WhenToUse, &sk.Category, &tags, &sk.Trigger, &sk.Body,
		&scope, &sk.SortOrder, &sk.Version, &tools, &sk.Dir,
	); err != nil {
		return skills.Skill{}, err
	}
	var err error
	if sk.Tags, err = decodeList(tags); err != nil {
		return skills.Skill{}, err
	}
	if sk.Scope, err = decodeList(scope); err != nil {
		return skills.Skill{}, err
	}
	if sk.AllowedTools, err = decodeList(tools); err != nil {
		return skills.Skill{}, err
	}
	return sk, nil
}

var _ skills.Catalog = (*SkillStore)(nil)
