package council

import (
	"context"
	"sort"
	"strings"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/skills"
)

// Directives lists council directives ordered by name. A directive is an
// ordinary skill in the council category; its body is never interpreted.
func (e *Engine) Directives(ctx context.Context) ([]skills.Skill, error) {
	all, err := e.catalog.Skills(ctx, skills.Filter{Categories: []string{skills.CategoryCouncil}})
	if err != nil {
		return nil, cerrors.New(cerrors.CodeStoreError, "list councils", err)
	}
	out := make([]skills.Skill, 0, len(all))
	for _, s := range all {
		if s.IsCouncil() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Directive returns the council directive called name.
func (e *Engine) Directive(ctx context.Context, name string) (skills.Skill, error) {
	s, err := e.catalog.Get(ctx, name)
	if err != nil {
		if cerrors.IsCode(err, cerrors.CodeNotFound) {
			return skills.Skill{}, cerrors.NotFound("council", name)
		}
		return skills.Skill{}, err
	}
	if !s.IsCouncil() {
		return skills.Skill{}, cerrors.InvalidInput("skill is not a council").
			WithContext("skill", s.Name).
			WithContext("category", s.Category)
	}
	return s, nil
}
