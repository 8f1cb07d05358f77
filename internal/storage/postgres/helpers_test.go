package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every table. It lives in a _test file
// so production builds never carry it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE devices, variables, actions, index_meta")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate: %w", err)
	}
	return nil
}
