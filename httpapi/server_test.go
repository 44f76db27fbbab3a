package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"escrowflow/account"
	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/query"
)

const (
	txnID       = "4f9c2d66-0f6f-4f3a-9f7e-2b8f0a1c3d5e"
	milestoneID = "7a1b9c3d-5e2f-4a6b-8c0d-1e3f5a7b9c2d"
	disputeID   = "9d8c7b6a-5f4e-4d3c-b2a1-0f9e8d7c6b5a"
)

func newTestServer(t *testing.T) (*Server, *stubEscrow, *stubDispute, *stubQuery) {
	t.Helper()
	esc := &stubEscrow{}
	disp := &stubDispute{}
	qry := &stubQuery{}
	srv := NewServer(esc, disp, &stubAuth{}, qry, &stubAccounts{}, &stubTrail{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return srv, esc, disp, qry
}

func do(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestAuthentication(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	if rec := do(t, srv, http.MethodGet, "/api/transactions", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/transactions", "garbage", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/transactions", "buyer-token", ""); rec.Code != http.StatusOK {
		t.Errorf("good token: expected 200, got %d", rec.Code)
	}
}

func TestCreateTransaction(t *testing.T) {
	srv, esc, _, _ := newTestServer(t)
	esc.txn = escrow.Transaction{ID: txnID, Status: escrow.StatusPending, TotalAmount: 5000}

	body := `{"order_id":"ord-1","buyer_id":"b","seller_id":"s","total_amount":5000,"currency":"USD","type":"full"}`
	rec := do(t, srv, http.MethodPost, "/api/transactions", "buyer-token", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if esc.lastCreate.ActorID != "user-buyer" {
		t.Errorf("actor should come from the token, got %q", esc.lastCreate.ActorID)
	}

	var resp transactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != txnID || resp.TotalAmount != 5000 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestCreateTransaction_MalformedBody(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/transactions", "buyer-token", `{"total_amount": "not a number"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	rec = do(t, srv, http.MethodPost, "/api/transactions", "buyer-token", `{"unknown_field": true}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: expected 400, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{escrow.ErrValidation, http.StatusBadRequest},
		{escrow.ErrNotFound, http.StatusNotFound},
		{escrow.ErrInvalidState, http.StatusConflict},
		{escrow.ErrInvariant, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, c := range cases {
		srv, esc, _, _ := newTestServer(t)
		esc.err = c.err
		rec := do(t, srv, http.MethodPost, "/api/transactions/"+txnID+"/release", "buyer-token", "")
		if rec.Code != c.want {
			t.Errorf("%v: expected %d, got %d", c.err, c.want, rec.Code)
		}
	}
}

func TestMalformedPathID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/transactions/not-a-uuid", "buyer-token", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for malformed id, got %d", rec.Code)
	}
}

func TestTransitions(t *testing.T) {
	srv, esc, _, _ := newTestServer(t)
	esc.txn = escrow.Transaction{ID: txnID, Status: escrow.StatusActive}

	for _, action := range []string{"hold", "activate", "release", "cancel"} {
		rec := do(t, srv, http.MethodPost, "/api/transactions/"+txnID+"/"+action, "seller-token", "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", action, rec.Code, rec.Body)
		}
	}
	if esc.lastActor != "user-seller" {
		t.Errorf("actor should come from the token, got %q", esc.lastActor)
	}
}

func TestReleaseWithReason(t *testing.T) {
	srv, esc, _, _ := newTestServer(t)
	esc.txn = escrow.Transaction{ID: txnID, Status: escrow.StatusCompleted}

	rec := do(t, srv, http.MethodPost, "/api/transactions/"+txnID+"/release", "buyer-token", `{"reason":"goods received"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if esc.lastReason != "goods received" {
		t.Errorf("reason not forwarded, got %q", esc.lastReason)
	}
}

func TestReleaseMilestone(t *testing.T) {
	srv, esc, _, _ := newTestServer(t)
	esc.txn = escrow.Transaction{ID: txnID, Status: escrow.StatusActive}

	rec := do(t, srv, http.MethodPost, "/api/transactions/"+txnID+"/milestones/"+milestoneID+"/release", "buyer-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if esc.lastMilestoneID != milestoneID {
		t.Errorf("milestone id not forwarded, got %q", esc.lastMilestoneID)
	}
}

func TestFileDispute(t *testing.T) {
	srv, _, disp, _ := newTestServer(t)
	disp.rec = dispute.Record{ID: disputeID, TransactionID: txnID, Status: dispute.StatusOpen}

	body := `{"initiator":"buyer","reason":"never delivered"}`
	rec := do(t, srv, http.MethodPost, "/api/transactions/"+txnID+"/disputes", "buyer-token", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if disp.lastFile.ActorID != "user-buyer" {
		t.Errorf("actor should come from the token, got %q", disp.lastFile.ActorID)
	}
}

func TestResolveDispute_ArbiterOnly(t *testing.T) {
	srv, _, disp, _ := newTestServer(t)
	disp.rec = dispute.Record{ID: disputeID, TransactionID: txnID, Status: dispute.StatusResolved}

	path := "/api/transactions/" + txnID + "/disputes/" + disputeID + "/resolve"
	body := `{"award":"split","resolution":"both at fault"}`

	if rec := do(t, srv, http.MethodPost, path, "buyer-token", body); rec.Code != http.StatusForbidden {
		t.Errorf("buyer resolving: expected 403, got %d", rec.Code)
	}
	rec := do(t, srv, http.MethodPost, path, "arbiter-token", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("arbiter resolving: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if disp.lastResolve.ResolverID != "user-arbiter" {
		t.Errorf("resolver should come from the token, got %q", disp.lastResolve.ResolverID)
	}
}

func TestListTransactions_Filters(t *testing.T) {
	srv, _, _, qry := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/transactions?status=active&type=milestone&page=2&page_size=10&sort=amount&order=desc", "buyer-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	f := qry.lastFilters
	if f.Status != "active" || f.Type != "milestone" || f.Page != 2 || f.PageSize != 10 || f.SortKey != "amount" || f.SortOrder != "desc" {
		t.Errorf("filters not forwarded: %+v", f)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/auth/register", "", `{"email":"a@b.c","password":"secret123","full_name":"A"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("register: expected 201, got %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, srv, http.MethodPost, "/api/auth/login", "", `{"email":"a@b.c","password":"secret123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a token")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/auth/login", "", `{"email":"a@b.c","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestOwnBalance(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/accounts/me/balance", "buyer-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var balances []balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balances); err != nil {
		t.Fatalf("decode balances: %v", err)
	}
	if len(balances) != 1 || balances[0].UserID != "user-buyer" {
		t.Errorf("unexpected balances: %+v", balances)
	}
}

// stubs

type stubEscrow struct {
	txn             escrow.Transaction
	err             error
	lastCreate      escrow.CreateParams
	lastActor       string
	lastReason      string
	lastMilestoneID string
}

func (s *stubEscrow) Create(_ context.Context, params escrow.CreateParams) (escrow.Transaction, error) {
	s.lastCreate = params
	return s.txn, s.err
}

func (s *stubEscrow) Get(_ context.Context, id string) (escrow.Transaction, error) {
	return s.txn, s.err
}

func (s *stubEscrow) Hold(_ context.Context, id, actorID string) (escrow.Transaction, error) {
	s.lastActor = actorID
	return s.txn, s.err
}

func (s *stubEscrow) Activate(_ context.Context, id, actorID string) (escrow.Transaction, error) {
	s.lastActor = actorID
	return s.txn, s.err
}

func (s *stubEscrow) ReleaseFullPayment(_ context.Context, id, actorID, reason string) (escrow.Transaction, error) {
	s.lastActor = actorID
	s.lastReason = reason
	return s.txn, s.err
}

func (s *stubEscrow) Cancel(_ context.Context, id, actorID, reason string) (escrow.Transaction, error) {
	s.lastActor = actorID
	s.lastReason = reason
	return s.txn, s.err
}

func (s *stubEscrow) AddMilestone(_ context.Context, transactionID, actorID string, params escrow.MilestoneParams) (escrow.Milestone, error) {
	s.lastActor = actorID
	return escrow.Milestone{ID: milestoneID, TransactionID: transactionID, Name: params.Name}, s.err
}

func (s *stubEscrow) ReleaseMilestone(_ context.Context, transactionID, mID, actorID, reason string) (escrow.Transaction, error) {
	s.lastMilestoneID = mID
	s.lastActor = actorID
	s.lastReason = reason
	return s.txn, s.err
}

type stubDispute struct {
	rec         dispute.Record
	err         error
	lastFile    dispute.FileParams
	lastResolve dispute.ResolveParams
}

func (s *stubDispute) File(_ context.Context, params dispute.FileParams) (dispute.Record, error) {
	s.lastFile = params
	return s.rec, s.err
}

func (s *stubDispute) StartReview(_ context.Context, transactionID, disputeID string) (dispute.Record, error) {
	return s.rec, s.err
}

func (s *stubDispute) Resolve(_ context.Context, params dispute.ResolveParams) (dispute.Record, error) {
	s.lastResolve = params
	return s.rec, s.err
}

// stubAuth issues tokens of the form "<role>-token" mapping to user "user-<role>".
type stubAuth struct{}

func (s *stubAuth) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	return &auth.User{ID: "user-new", Email: req.Email, FullName: req.FullName, Role: auth.RoleBuyer}, nil
}

func (s *stubAuth) Login(_ context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	if req.Password != "secret123" {
		return auth.LoginResult{}, auth.ErrInvalidCredentials
	}
	return auth.LoginResult{Token: "buyer-token", User: auth.User{ID: "user-buyer", Email: req.Email, Role: auth.RoleBuyer}}, nil
}

func (s *stubAuth) VerifyToken(token string) (string, auth.Role, error) {
	role, ok := strings.CutSuffix(token, "-token")
	if !ok {
		return "", "", auth.ErrInvalidCredentials
	}
	switch auth.Role(role) {
	case auth.RoleBuyer, auth.RoleSeller, auth.RoleArbiter:
		return "user-" + role, auth.Role(role), nil
	default:
		return "", "", auth.ErrInvalidCredentials
	}
}

type stubQuery struct {
	lastFilters query.Filters
}

func (s *stubQuery) List(_ context.Context, filters query.Filters) (query.ListResult, error) {
	s.lastFilters = filters
	return query.ListResult{Items: []escrow.Transaction{}, Total: 0}, nil
}

func (s *stubQuery) Stats(context.Context) (query.Stats, error) {
	return query.Stats{}, nil
}

func (s *stubQuery) UpcomingMilestones(context.Context, int) ([]query.UpcomingMilestone, error) {
	return nil, nil
}

func (s *stubQuery) OpenDisputes(context.Context, int) ([]dispute.Record, error) {
	return nil, nil
}

type stubAccounts struct{}

func (s *stubAccounts) Get(_ context.Context, userID string) ([]account.Balance, error) {
	return []account.Balance{{UserID: userID, Currency: "USD", TotalHeld: 100}}, nil
}

type stubTrail struct{}

func (s *stubTrail) ListByTransaction(context.Context, string) ([]audit.Record, error) {
	return nil, nil
}
