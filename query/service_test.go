package query

import "testing"

func TestMapSortKey(t *testing.T) {
	cases := map[string]string{
		"amount":     "total_amount",
		"updated_at": "updated_at",
		"status":     "status",
		"order_id":   "order_id",
		"created_at": "created_at",
		"":           "created_at",
		// never trust caller input in an ORDER BY clause
		"id; DROP TABLE escrow_transactions": "created_at",
	}
	for in, want := range cases {
		if got := mapSortKey(in); got != want {
			t.Errorf("mapSortKey(%q) = %q, want %q", in, got, want)
		}
	}
}
