package store

import (
	"context"
	"fmt"
	"strings"
)

// Predicate narrows the records returned by Find.
type Predicate interface {
	predicate()
}

// Equals matches rows whose column equals Value.
type Equals struct {
	Column string
	Value  any
}

// AtLeast matches rows whose numeric column is >= Value.
type AtLeast struct {
	Column string
	Value  int64
}

// And matches rows satisfying every predicate. An empty And matches all rows.
type And struct {
	Predicates []Predicate
}

func (Equals) predicate()  {}
func (AtLeast) predicate() {}
func (And) predicate()     {}

// filterColumns are the record columns a predicate may reference.
var filterColumns = map[string]bool{
	"flow_id":        true,
	"waiting_for":    true,
	"suspend_count":  true,
	"retry_count":    true,
	"is_killed":      true,
	"engine_version": true,
	"schema_version": true,
}

// compilePredicate renders p as a WHERE fragment. Values are always bound
// as parameters.
func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case Equals:
		if !filterColumns[pred.Column] {
			return "", nil, fmt.Errorf("unknown filter column %q", pred.Column)
		}
		return pred.Column + " = ?", []any{pred.Value}, nil
	case AtLeast:
		if !filterColumns[pred.Column] {
			return "", nil, fmt.Errorf("unknown filter column %q", pred.Column)
		}
		return pred.Column + " >= ?", []any{pred.Value}, nil
	case And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			sql, subParams, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "("+sql+")")
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// Find returns the records matching p ordered by flow id.
// A nil predicate matches every record.
func (s *Store) Find(ctx context.Context, p Predicate) ([]Record, error) {
	where, params, err := compilePredicate(p)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT flow_id, revision, fingerprint, waiting_for, suspend_count, retry_count, is_killed, engine_version, schema_version
		FROM checkpoints
		WHERE `+where+`
		ORDER BY flow_id COLLATE BINARY ASC
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("find checkpoints: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("find checkpoints: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return records, nil
}
