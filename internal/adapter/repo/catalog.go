package repo

import (
	"context"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/sqlinline"
)

// LookupModifier implements domain.Catalog outside any queue transaction.
func (s *StorePG) LookupModifier(ctx context.Context, id string) (*domain.Modifier, error) {
	var m domain.Modifier
	err := s.runner.QueryRow(ctx, sqlinline.QGetModifier, id).Scan(
		&m.ID,
		&m.Name,
		&m.HighFile,
		&m.HighURI,
		&m.LowFile,
		&m.LowURI,
		&m.DefaultHighWeight,
		&m.DefaultLowWeight,
	)
	if err != nil {
		return nil, mapErr(err, "modifier", id)
	}
	return &m, nil
}

// LookupOptionLists implements domain.Catalog.
func (s *StorePG) LookupOptionLists(ctx context.Context, names []string) (map[string][]string, error) {
	out := make(map[string][]string, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := s.runner.Query(ctx, sqlinline.QOptionLists, names)
	if err != nil {
		return nil, mapErr(err, "option lists", "")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name    string
			options []string
		)
		if err := rows.Scan(&name, &options); err != nil {
			return nil, mapErr(err, "option lists", name)
		}
		out[name] = options
	}
	return out, rows.Err()
}

// PutModifier adds or replaces a catalog modifier.
func (s *StorePG) PutModifier(ctx context.Context, m domain.Modifier) error {
	_, err := s.runner.Exec(ctx, sqlinline.QUpsertModifier,
		m.ID,
		m.Name,
		m.HighFile,
		m.HighURI,
		m.LowFile,
		m.LowURI,
		m.DefaultHighWeight,
		m.DefaultLowWeight,
	)
	return mapErr(err, "modifier", m.ID)
}

// PutOptionList adds or replaces a named option list.
func (s *StorePG) PutOptionList(ctx context.Context, name string, options []string) error {
	if options == nil {
		options = []string{}
	}
	_, err := s.runner.Exec(ctx, sqlinline.QUpsertOptionList, name, options)
	return mapErr(err, "option list", name)
}
