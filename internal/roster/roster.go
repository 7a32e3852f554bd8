// Package roster defines where payout recipients come from. Presence
// and membership are owned by whatever feeds a Source; this package only
// reads them and applies the exclusion list.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Roster errors.
var (
	// ErrNotFound is returned when a participant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Participant is someone who may receive a share of a payout.
type Participant struct {
	Address string // krist address or name payouts are sent to
	Name    string // display name, optional
}

// Source lists the participants present right now.
type Source interface {
	Participants(ctx context.Context) ([]Participant, error)
}

// Eligible returns the participants of src that are not excluded, in
// source order with duplicate addresses removed. Exclusions match the
// address or the name, ignoring case.
func Eligible(ctx context.Context, src Source, exclude []string) ([]Participant, error) {
	participants, err := src.Participants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			excluded[id] = true
		}
	}

	seen := make(map[string]bool, len(participants))
	eligible := make([]Participant, 0, len(participants))
	for _, p := range participants {
		if p.Address == "" {
			continue
		}
		if excluded[strings.ToLower(p.Address)] || (p.Name != "" && excluded[strings.ToLower(p.Name)]) {
			continue
		}
		if seen[p.Address] {
			continue
		}
		seen[p.Address] = true
		eligible = append(eligible, p)
	}
	return eligible, nil
}
