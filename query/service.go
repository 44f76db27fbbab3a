package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/dispute"
	"escrowflow/escrow"
)

// Filters narrows the transaction listing. Zero values mean "no filter".
type Filters struct {
	UserID    string
	Status    string
	Type      string
	Currency  string
	Search    string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}

// ListResult pairs one page of transactions with the unpaged total.
type ListResult struct {
	Items []escrow.Transaction
	Total int
}

// Stats is the aggregate dashboard view over all transactions.
type Stats struct {
	Total         int     `json:"total"`
	Active        int     `json:"active"`
	Completed     int     `json:"completed"`
	Disputed      int     `json:"disputed"`
	TotalAmount   int64   `json:"total_amount"`
	AverageAmount float64 `json:"average_amount"`
}

// UpcomingMilestone is a pending milestone of a live transaction.
type UpcomingMilestone struct {
	Milestone     escrow.Milestone
	TransactionID string
	OrderID       string
	Status        escrow.Status
}

// Service is the read side: plain SQL over the same tables the write
// services own, never taking locks and never mutating.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const listColumns = `id, order_id, buyer_id, seller_id, buyer_name, seller_name,
	total_amount, currency, tx_type::text, status::text, current_milestone,
	release_conditions, delivery_deadline, quality_check_required, quality_check_passed,
	auto_release_at, holding_period_days, started_at, completed_at, created_at, updated_at`

// List pages through transactions. Milestones are not loaded here; callers
// that need them fetch the single transaction.
func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.UserID != "" {
		where = append(where, fmt.Sprintf("(buyer_id=$%d OR seller_id=$%d)", len(args)+1, len(args)+1))
		args = append(args, filters.UserID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Type != "" {
		where = append(where, fmt.Sprintf("tx_type=$%d", len(args)+1))
		args = append(args, filters.Type)
	}
	if filters.Currency != "" {
		where = append(where, fmt.Sprintf("currency=$%d", len(args)+1))
		args = append(args, filters.Currency)
	}
	if filters.Search != "" {
		n := len(args) + 1
		where = append(where, fmt.Sprintf(
			"(id::text ILIKE $%d OR order_id ILIKE $%d OR buyer_name ILIKE $%d OR seller_name ILIKE $%d)", n, n, n, n))
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.From != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, *filters.To)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortKey := mapSortKey(filters.SortKey)
	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM escrow_transactions%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		listColumns, whereClause, sortKey, sortOrder, limit, offset)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return ListResult{}, fmt.Errorf("query: list transactions: %w", err)
	}
	defer rows.Close()

	items := []escrow.Transaction{}
	for rows.Next() {
		var txn escrow.Transaction
		if err := rows.Scan(
			&txn.ID, &txn.OrderID, &txn.BuyerID, &txn.SellerID, &txn.BuyerName, &txn.SellerName,
			&txn.TotalAmount, &txn.Currency, &txn.Type, &txn.Status, &txn.CurrentMilestone,
			&txn.ReleaseConditions, &txn.DeliveryDeadline, &txn.QualityCheckRequired, &txn.QualityCheckPassed,
			&txn.AutoReleaseAt, &txn.HoldingPeriodDays, &txn.StartedAt, &txn.CompletedAt, &txn.CreatedAt, &txn.UpdatedAt,
		); err != nil {
			return ListResult{}, fmt.Errorf("query: scan transaction: %w", err)
		}
		items = append(items, txn)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("query: iterate transactions: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM escrow_transactions" + whereClause
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("query: count transactions: %w", err)
	}

	return ListResult{Items: items, Total: total}, nil
}

// Stats aggregates across all transactions in one statement.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'disputed'),
		       COALESCE(SUM(total_amount), 0),
		       COALESCE(AVG(total_amount), 0)
		FROM escrow_transactions
	`

	var st Stats
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.Total, &st.Active, &st.Completed, &st.Disputed, &st.TotalAmount, &st.AverageAmount)
	if err != nil {
		return Stats{}, fmt.Errorf("query: stats: %w", err)
	}
	return st, nil
}

// UpcomingMilestones lists pending milestones of live transactions ordered
// by due date, soonest first, nulls last.
func (s *Service) UpcomingMilestones(ctx context.Context, limit int) ([]UpcomingMilestone, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	const query = `
		SELECT m.id, m.transaction_id, m.position, m.name, m.description, m.amount, m.percentage,
		       m.due_date, m.status::text, m.released_at, m.notes, m.created_at,
		       t.order_id, t.status::text
		FROM milestones m
		JOIN escrow_transactions t ON t.id = m.transaction_id
		WHERE m.status = 'pending' AND t.status IN ('pending', 'active')
		ORDER BY m.due_date ASC NULLS LAST, m.created_at ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query: upcoming milestones: %w", err)
	}
	defer rows.Close()

	out := []UpcomingMilestone{}
	for rows.Next() {
		var u UpcomingMilestone
		m := &u.Milestone
		if err := rows.Scan(
			&m.ID, &m.TransactionID, &m.Position, &m.Name, &m.Description, &m.Amount, &m.Percentage,
			&m.DueDate, &m.Status, &m.ReleasedAt, &m.Notes, &m.CreatedAt,
			&u.OrderID, &u.Status,
		); err != nil {
			return nil, fmt.Errorf("query: scan milestone: %w", err)
		}
		u.TransactionID = m.TransactionID
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: iterate milestones: %w", err)
	}
	return out, nil
}

// OpenDisputes lists unresolved disputes, newest first.
func (s *Service) OpenDisputes(ctx context.Context, limit int) ([]dispute.Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	const query = `
		SELECT id, transaction_id, initiator::text, reason, description, status::text,
		       evidence, resolution, resolved_by, created_at, resolved_at
		FROM disputes
		WHERE status IN ('open', 'under_review')
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query: open disputes: %w", err)
	}
	defer rows.Close()

	out := []dispute.Record{}
	for rows.Next() {
		var rec dispute.Record
		if err := rows.Scan(
			&rec.ID, &rec.TransactionID, &rec.Initiator, &rec.Reason, &rec.Description, &rec.Status,
			&rec.Evidence, &rec.Resolution, &rec.ResolvedBy, &rec.CreatedAt, &rec.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("query: scan dispute: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: iterate disputes: %w", err)
	}
	return out, nil
}

// mapSortKey restricts ORDER BY to a known column set.
func mapSortKey(key string) string {
	switch key {
	case "amount":
		return "total_amount"
	case "updated_at":
		return "updated_at"
	case "status":
		return "status"
	case "order_id":
		return "order_id"
	default:
		return "created_at"
	}
}
