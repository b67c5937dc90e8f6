package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/steadycore/observe"
	"github.com/jonwraymond/steadycore/storage"
)

type claimOptions struct {
	table    string
	items    int
	claimers int
}

func buildClaimCommand(load loadFunc) *cobra.Command {
	opts := claimOptions{}

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Seed a pool table and race concurrent claimers over it",
		Long: `Reset the pool table to --items available rows, start --claimers
concurrent requesters that each claim at most one row, and print who got what.
Every row ends up with at most one owner; surplus claimers get nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, release, err := load(ctx)
			if err != nil {
				return err
			}
			defer release()

			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			report, err := rt.runClaims(ctx, opts)
			if err != nil {
				return err
			}
			return report.print(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.table, "table", "claim_pool", "Pool table to seed and claim from")
	cmd.Flags().IntVar(&opts.items, "items", 10, "Rows to seed")
	cmd.Flags().IntVar(&opts.claimers, "claimers", 25, "Concurrent claimers")

	return cmd
}

type claimReport struct {
	table    string
	claimers int
	owners   map[int64]string // item id -> owner
	empty    int              // claimers that got nothing
}

func (o claimOptions) claim(requester string) storage.TableClaim {
	return storage.TableClaim{
		Table:     o.table,
		Requester: requester,
		Counter: &storage.Counter{
			Table:     o.table + "_claims",
			KeyColumn: "requester",
			Column:    "claims",
		},
	}
}

func (rt *runtime) seedPool(ctx context.Context, o claimOptions) error {
	if err := o.claim("seed").Validate(); err != nil {
		return err
	}
	if o.items < 0 || o.claimers < 1 {
		return fmt.Errorf("claim: need items >= 0 and claimers >= 1, got %d and %d", o.items, o.claimers)
	}

	return rt.store.RunInTransaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				owner TEXT,
				available INTEGER NOT NULL DEFAULT 1
			)`, o.table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_claims (
				requester TEXT PRIMARY KEY,
				claims INTEGER NOT NULL DEFAULT 0
			)`, o.table),
			fmt.Sprintf("DELETE FROM %s", o.table),
			fmt.Sprintf("DELETE FROM %s_claims", o.table),
		}
		for _, q := range stmts {
			if _, err := tx.Run(ctx, q); err != nil {
				return err
			}
		}
		insert := fmt.Sprintf("INSERT INTO %s (name) VALUES (?)", o.table)
		for i := 1; i <= o.items; i++ {
			if _, err := tx.Run(ctx, insert, fmt.Sprintf("item-%03d", i)); err != nil {
				return err
			}
		}
		return nil
	})
}

// runClaims seeds the table and runs the claimers concurrently.
func (rt *runtime) runClaims(ctx context.Context, o claimOptions) (*claimReport, error) {
	if err := rt.seedPool(ctx, o); err != nil {
		return nil, err
	}

	mw := observe.MiddlewareFromObserver(rt.obs)
	report := &claimReport{table: o.table, claimers: o.claimers, owners: make(map[int64]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= o.claimers; i++ {
		requester := fmt.Sprintf("claimer-%03d", i)
		g.Go(func() error {
			meta := observe.OpMeta{Component: "storage", Name: "claim_one", Target: o.table}
			return mw.Run(gctx, meta, func(ctx context.Context) error {
				id, ok, err := rt.store.ClaimFromTable(ctx, o.claim(requester))
				if err != nil {
					return fmt.Errorf("%s: %w", requester, err)
				}
				mu.Lock()
				defer mu.Unlock()
				if !ok {
					report.empty++
					return nil
				}
				if prev, dup := report.owners[id]; dup {
					return fmt.Errorf("claim: item %d handed to both %s and %s", id, prev, requester)
				}
				report.owners[id] = requester
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := rt.verifyOwners(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// verifyOwners cross-checks the in-memory result against the table.
func (rt *runtime) verifyOwners(ctx context.Context, r *claimReport) error {
	stored := make(map[int64]string)
	err := rt.store.RunInTransaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		clear(stored)
		q := fmt.Sprintf("SELECT id, owner FROM %s WHERE owner IS NOT NULL", r.table)
		return tx.All(ctx, func(rows *sql.Rows) error {
			var (
				id    int64
				owner string
			)
			if err := rows.Scan(&id, &owner); err != nil {
				return err
			}
			stored[id] = owner
			return nil
		}, q)
	})
	if err != nil {
		return err
	}
	if len(stored) != len(r.owners) {
		return fmt.Errorf("claim: table has %d owned rows, claimers report %d", len(stored), len(r.owners))
	}
	for id, owner := range r.owners {
		if stored[id] != owner {
			return fmt.Errorf("claim: item %d owned by %q in table, %q reported", id, stored[id], owner)
		}
	}
	return nil
}

func (r *claimReport) print(w io.Writer) error {
	ids := make([]int64, 0, len(r.owners))
	for id := range r.owners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tOWNER")
	for _, id := range ids {
		fmt.Fprintf(tw, "%d\t%s\n", id, r.owners[id])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d claimers, %d items claimed, %d claimers got nothing\n",
		r.claimers, len(r.owners), r.empty)
	return err
}
