package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against a live database under load.
// Each query must return zero rows; any row is a violated invariant.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_milestone_sum_within_total",
			SQL: `SELECT t.id, SUM(m.amount), t.total_amount
                  FROM escrow_transactions t JOIN milestones m ON m.transaction_id = t.id
                  GROUP BY t.id, t.total_amount
                  HAVING SUM(m.amount) > t.total_amount`,
		},
		{
			Name: "O2_completed_milestone_sum_exact",
			SQL: `SELECT t.id, COALESCE(SUM(m.amount), 0), t.total_amount
                  FROM escrow_transactions t LEFT JOIN milestones m ON m.transaction_id = t.id
                  WHERE t.tx_type = 'milestone' AND t.status = 'completed'
                  GROUP BY t.id, t.total_amount
                  HAVING COALESCE(SUM(m.amount), 0) <> t.total_amount`,
		},
		{
			Name: "O3_audit_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT transaction_id, seq,
                             LAG(seq) OVER (PARTITION BY transaction_id ORDER BY seq) AS prev
                      FROM audit_records)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O4_audit_seq_dense",
			SQL: `SELECT transaction_id, MAX(seq), COUNT(*)
                  FROM audit_records
                  GROUP BY transaction_id
                  HAVING MAX(seq) <> COUNT(*) OR MIN(seq) <> 1`,
		},
		{
			Name: "O5_balances_match_walk",
			SQL: `SELECT a.user_id, a.currency, a.total_held, w.held, a.total_released, w.released, a.total_in_dispute, w.in_dispute
                  FROM escrow_accounts a
                  JOIN LATERAL (
                      SELECT COALESCE(SUM(t.total_amount) FILTER (WHERE t.status IN ('pending','active')), 0) AS held,
                             COALESCE(SUM(t.total_amount) FILTER (WHERE t.status = 'completed'), 0) AS released,
                             COALESCE(SUM(t.total_amount) FILTER (WHERE t.status = 'disputed'), 0) AS in_dispute
                      FROM escrow_transactions t
                      WHERE (t.buyer_id = a.user_id OR t.seller_id = a.user_id) AND t.currency = a.currency
                  ) w ON true
                  WHERE a.total_held <> w.held OR a.total_released <> w.released OR a.total_in_dispute <> w.in_dispute`,
		},
		{
			Name: "O6_terminal_no_open_disputes",
			SQL: `SELECT d.id, d.transaction_id, t.status
                  FROM disputes d JOIN escrow_transactions t ON t.id = d.transaction_id
                  WHERE t.status IN ('completed', 'cancelled') AND d.status IN ('open', 'under_review')`,
		},
		{
			Name: "O7_disputed_status_backed_by_dispute",
			SQL: `SELECT t.id FROM escrow_transactions t
                  WHERE t.status = 'disputed'
                    AND NOT EXISTS (SELECT 1 FROM disputes d
                                    WHERE d.transaction_id = t.id AND d.status IN ('open', 'under_review'))`,
		},
		{
			Name: "O8_released_milestones_stamped",
			SQL:  `SELECT id FROM milestones WHERE status = 'released' AND released_at IS NULL`,
		},
		{
			Name: "O9_terminal_stamps_present",
			SQL: `SELECT id, status FROM escrow_transactions
                  WHERE status = 'completed' AND completed_at IS NULL`,
		},
		{
			Name: "O10_resolved_disputes_have_resolution",
			SQL:  `SELECT id FROM disputes WHERE status = 'resolved' AND (resolution IS NULL OR resolved_at IS NULL)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
