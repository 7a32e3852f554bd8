package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"krist-payout/internal/roster"
)

// Store implements roster.Source using PostgreSQL. The presence feed
// writes with SetPresent; the payout side only reads.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ roster.Source = (*Store)(nil)

// Participants returns online participants that are not on the exclusion
// list, in join order.
func (s *Store) Participants(ctx context.Context) ([]roster.Participant, error) {
	query := `
		SELECT p.address, p.name
		FROM roster_participants p
		WHERE p.online
		  AND NOT EXISTS (
		      SELECT 1 FROM roster_exclusions e
		      WHERE e.identifier = lower(p.address)
		         OR (p.name <> '' AND e.identifier = lower(p.name))
		  )
		ORDER BY p.joined_at ASC, p.address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}

	participants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (roster.Participant, error) {
		var p roster.Participant
		err := row.Scan(&p.Address, &p.Name)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan participants: %w", err)
	}
	return participants, nil
}

// SetPresent records p as online or offline. A participant coming back
// online keeps its original join time.
func (s *Store) SetPresent(ctx context.Context, p roster.Participant, online bool) error {
	if p.Address == "" {
		return roster.ErrInvalidInput
	}

	query := `
		INSERT INTO roster_participants (address, name, online)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE
		SET name = CASE WHEN EXCLUDED.name = '' THEN roster_participants.name ELSE EXCLUDED.name END,
		    online = EXCLUDED.online,
		    updated_at = now()
	`

	if _, err := s.pool.Exec(ctx, query, p.Address, p.Name, online); err != nil {
		return fmt.Errorf("set presence of %s: %w", p.Address, err)
	}
	return nil
}

// Get retrieves a participant by address. Returns roster.ErrNotFound if
// it does not exist.
func (s *Store) Get(ctx context.Context, address string) (roster.Participant, bool, error) {
	query := `
		SELECT address, name, online
		FROM roster_participants
		WHERE address = $1
	`

	var p roster.Participant
	var online bool
	err := s.pool.QueryRow(ctx, query, address).Scan(&p.Address, &p.Name, &online)
	if err != nil {
		if isNotFoundError(err) {
			return roster.Participant{}, false, roster.ErrNotFound
		}
		return roster.Participant{}, false, fmt.Errorf("get participant: %w", err)
	}
	return p, online, nil
}

// Exclude adds identifier, an address or name, to the exclusion list.
func (s *Store) Exclude(ctx context.Context, identifier, reason string) error {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return roster.ErrInvalidInput
	}

	query := `
		INSERT INTO roster_exclusions (identifier, reason)
		VALUES ($1, $2)
		ON CONFLICT (identifier) DO UPDATE SET reason = EXCLUDED.reason
	`

	if _, err := s.pool.Exec(ctx, query, identifier, reason); err != nil {
		return fmt.Errorf("exclude %s: %w", identifier, err)
	}
	return nil
}

// Include removes identifier from the exclusion list. Returns
// roster.ErrNotFound if it was not excluded.
func (s *Store) Include(ctx context.Context, identifier string) error {
	identifier = strings.ToLower(strings.TrimSpace(identifier))

	tag, err := s.pool.Exec(ctx, `DELETE FROM roster_exclusions WHERE identifier = $1`, identifier)
	if err != nil {
		return fmt.Errorf("include %s: %w", identifier, err)
	}
	if tag.RowsAffected() == 0 {
		return roster.ErrNotFound
	}
	return nil
}

// Exclusions returns the exclusion list, sorted.
func (s *Store) Exclusions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT identifier FROM roster_exclusions ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("query exclusions: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan exclusions: %w", err)
	}
	return ids, nil
}
