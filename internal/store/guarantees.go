package store

import (
	"encoding/json"
	"fmt"

	"grafema/internal/guarantee"
	"grafema/internal/logging"
)

// SaveGuarantee upserts a guarantee declaration. Declarations created
// through the CLI survive re-analysis; file-loaded ones are re-read
// from their source instead.
func (s *SQLiteStore) SaveGuarantee(g guarantee.Guarantee) error {
	if err := g.Validate(); err != nil {
		return err
	}

	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal guarantee %q: %w", g.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO guarantees (name, doc) VALUES (?, ?)`,
		g.Name, string(doc),
	)
	if err != nil {
		return fmt.Errorf("store guarantee %q: %w", g.Name, err)
	}
	logging.Store("Stored guarantee %q (%s, %s)", g.Name, g.Kind, g.Priority)
	return nil
}

// DeleteGuarantee removes a stored guarantee, reporting whether it
// existed.
func (s *SQLiteStore) DeleteGuarantee(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM guarantees WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LoadGuarantees returns every stored guarantee declaration.
func (s *SQLiteStore) LoadGuarantees() ([]guarantee.Guarantee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT name, doc FROM guarantees ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []guarantee.Guarantee
	for rows.Next() {
		var name, doc string
		if err := rows.Scan(&name, &doc); err != nil {
			return nil, err
		}
		var g guarantee.Guarantee
		if err := json.Unmarshal([]byte(doc), &g); err != nil {
			return nil, fmt.Errorf("corrupt guarantee %q: %w", name, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
