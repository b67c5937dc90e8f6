package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jonwraymond/steadycore/observe"
)

// Claim describes how to hand one pool item to one requester.
//
// Select picks a candidate. Update must be a conditional write that re-checks
// availability, e.g. UPDATE ... WHERE id = ? AND available = 1, and return
// the number of rows it changed.
type Claim interface {
	Select(ctx context.Context, tx *Tx) (id int64, found bool, err error)
	Update(ctx context.Context, tx *Tx, id int64) (rowsAffected int64, err error)
}

// Bookkeeper is implemented by claims that record auxiliary state, such as
// counters, in the same transaction as a successful claim.
type Bookkeeper interface {
	Bookkeep(ctx context.Context, tx *Tx, id int64) error
}

// ClaimFuncs adapts plain functions to Claim. BookkeepFn is optional.
type ClaimFuncs struct {
	Name       string
	SelectFn   func(ctx context.Context, tx *Tx) (int64, bool, error)
	UpdateFn   func(ctx context.Context, tx *Tx, id int64) (int64, error)
	BookkeepFn func(ctx context.Context, tx *Tx, id int64) error
}

func (f ClaimFuncs) Select(ctx context.Context, tx *Tx) (int64, bool, error) {
	return f.SelectFn(ctx, tx)
}

func (f ClaimFuncs) Update(ctx context.Context, tx *Tx, id int64) (int64, error) {
	return f.UpdateFn(ctx, tx, id)
}

func (f ClaimFuncs) Bookkeep(ctx context.Context, tx *Tx, id int64) error {
	if f.BookkeepFn == nil {
		return nil
	}
	return f.BookkeepFn(ctx, tx, id)
}

func (f ClaimFuncs) PoolName() string { return f.Name }

type claimResult struct {
	id      int64
	claimed bool
}

// ClaimOne assigns at most one item to the caller.
//
// It returns (id, true, nil) on success and (0, false, nil) when there is no
// candidate or another claimer won the conditional update for it. A lost race
// is not retried. Errors come only from the store or from the claim itself.
func (s *Store) ClaimOne(ctx context.Context, c Claim) (int64, bool, error) {
	name := poolName(c)

	res, err := InTransaction(ctx, s, func(ctx context.Context, tx *Tx) (claimResult, error) {
		id, found, err := c.Select(ctx, tx)
		if err != nil {
			return claimResult{}, fmt.Errorf("storage: claim select: %w", err)
		}
		if !found {
			return claimResult{}, nil
		}

		n, err := c.Update(ctx, tx, id)
		if err != nil {
			return claimResult{}, fmt.Errorf("storage: claim update: %w", err)
		}
		if n == 0 {
			s.log.Debug(ctx, "claim race lost", observe.F("pool", name), observe.F("candidate", id))
			return claimResult{}, nil
		}

		if b, ok := c.(Bookkeeper); ok {
			if err := b.Bookkeep(ctx, tx, id); err != nil {
				return claimResult{}, fmt.Errorf("storage: claim bookkeeping: %w", err)
			}
		}
		return claimResult{id: id, claimed: true}, nil
	})

	s.instruments.RecordClaim(ctx, name, res.claimed, err)
	if err != nil {
		return 0, false, err
	}
	return res.id, res.claimed, nil
}

func poolName(c Claim) string {
	if n, ok := c.(interface{ PoolName() string }); ok && n.PoolName() != "" {
		return n.PoolName()
	}
	return "claim"
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Counter names a per-requester counter bumped by a successful TableClaim.
// KeyColumn must carry a UNIQUE or PRIMARY KEY constraint.
type Counter struct {
	Table     string
	KeyColumn string
	Column    string
}

// TableClaim is a Claim over a table with an availability flag and an owner
// column.
type TableClaim struct {
	Table           string
	IDColumn        string // default "id"
	OwnerColumn     string // default "owner"
	AvailableColumn string // default "available"

	// Requester becomes the owner of the claimed row. Rows it already owns
	// are never selected.
	Requester any

	// OrderBy is a trusted SQL ordering expression used to pick among
	// candidates. Default: RANDOM().
	OrderBy string

	// Counter, if set, is incremented for Requester on success.
	Counter *Counter
}

func (c TableClaim) withDefaults() TableClaim {
	if c.IDColumn == "" {
		c.IDColumn = "id"
	}
	if c.OwnerColumn == "" {
		c.OwnerColumn = "owner"
	}
	if c.AvailableColumn == "" {
		c.AvailableColumn = "available"
	}
	if c.OrderBy == "" {
		c.OrderBy = "RANDOM()"
	}
	return c
}

// Validate checks that all identifiers are plain SQL names.
func (c TableClaim) Validate() error {
	c = c.withDefaults()
	idents := []string{c.Table, c.IDColumn, c.OwnerColumn, c.AvailableColumn}
	if c.Counter != nil {
		idents = append(idents, c.Counter.Table, c.Counter.KeyColumn, c.Counter.Column)
	}
	for _, id := range idents {
		if !identRe.MatchString(id) {
			return fmt.Errorf("%w: identifier %q", ErrInvalidClaim, id)
		}
	}
	if c.Requester == nil {
		return fmt.Errorf("%w: requester is required", ErrInvalidClaim)
	}
	return nil
}

func (c TableClaim) PoolName() string { return c.Table }

func (c TableClaim) Select(ctx context.Context, tx *Tx) (int64, bool, error) {
	c = c.withDefaults()
	q := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = 1 AND (%s IS NULL OR %s <> ?) ORDER BY %s LIMIT 1",
		c.IDColumn, c.Table, c.AvailableColumn, c.OwnerColumn, c.OwnerColumn, c.OrderBy,
	)
	var id int64
	found, err := tx.Get(ctx, q, []any{c.Requester}, &id)
	return id, found, err
}

func (c TableClaim) Update(ctx context.Context, tx *Tx, id int64) (int64, error) {
	c = c.withDefaults()
	q := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = 0 WHERE %s = ? AND %s = 1",
		c.Table, c.OwnerColumn, c.AvailableColumn, c.IDColumn, c.AvailableColumn,
	)
	res, err := tx.Run(ctx, q, c.Requester, id)
	return res.RowsAffected, err
}

func (c TableClaim) Bookkeep(ctx context.Context, tx *Tx, _ int64) error {
	if c.Counter == nil {
		return nil
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (%s, %s) VALUES (?, 1) ON CONFLICT(%s) DO UPDATE SET %s = %s + 1",
		c.Counter.Table, c.Counter.KeyColumn, c.Counter.Column,
		c.Counter.KeyColumn, c.Counter.Column, c.Counter.Column,
	)
	_, err := tx.Run(ctx, q, c.Requester)
	return err
}

// ClaimFromTable validates c and claims one row with it.
func (s *Store) ClaimFromTable(ctx context.Context, c TableClaim) (int64, bool, error) {
	if err := c.Validate(); err != nil {
		return 0, false, err
	}
	return s.ClaimOne(ctx, c)
}
