package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"escrowflow/account"
	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/query"
)

// EscrowService is the write surface for transactions and milestones.
type EscrowService interface {
	Create(ctx context.Context, params escrow.CreateParams) (escrow.Transaction, error)
	Get(ctx context.Context, id string) (escrow.Transaction, error)
	Hold(ctx context.Context, id, actorID string) (escrow.Transaction, error)
	Activate(ctx context.Context, id, actorID string) (escrow.Transaction, error)
	ReleaseFullPayment(ctx context.Context, id, actorID, reason string) (escrow.Transaction, error)
	Cancel(ctx context.Context, id, actorID, reason string) (escrow.Transaction, error)
	AddMilestone(ctx context.Context, transactionID, actorID string, params escrow.MilestoneParams) (escrow.Milestone, error)
	ReleaseMilestone(ctx context.Context, transactionID, milestoneID, actorID, reason string) (escrow.Transaction, error)
}

// DisputeService is the arbitration surface.
type DisputeService interface {
	File(ctx context.Context, params dispute.FileParams) (dispute.Record, error)
	StartReview(ctx context.Context, transactionID, disputeID string) (dispute.Record, error)
	Resolve(ctx context.Context, params dispute.ResolveParams) (dispute.Record, error)
}

// AuthService issues and verifies identities.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// QueryService is the read side.
type QueryService interface {
	List(ctx context.Context, filters query.Filters) (query.ListResult, error)
	Stats(ctx context.Context) (query.Stats, error)
	UpcomingMilestones(ctx context.Context, limit int) ([]query.UpcomingMilestone, error)
	OpenDisputes(ctx context.Context, limit int) ([]dispute.Record, error)
}

// AccountReader exposes the derived balance projection.
type AccountReader interface {
	Get(ctx context.Context, userID string) ([]account.Balance, error)
}

// AuditReader exposes the per-transaction audit trail.
type AuditReader interface {
	ListByTransaction(ctx context.Context, transactionID string) ([]audit.Record, error)
}

// Server wires handlers to services. Every field is an interface so handler
// tests run against stubs.
type Server struct {
	escrowService  EscrowService
	disputeService DisputeService
	authService    AuthService
	queryService   QueryService
	accounts       AccountReader
	trail          AuditReader
	log            *slog.Logger
}

func NewServer(escrowSvc EscrowService, disputeSvc DisputeService, authSvc AuthService, querySvc QueryService, accounts AccountReader, trail AuditReader, log *slog.Logger) *Server {
	return &Server{
		escrowService:  escrowSvc,
		disputeService: disputeSvc,
		authService:    authSvc,
		queryService:   querySvc,
		accounts:       accounts,
		trail:          trail,
		log:            log,
	}
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/api/transactions", func(r chi.Router) {
			r.Post("/", s.handleCreateTransaction)
			r.Get("/", s.handleListTransactions)
			r.Get("/stats", s.handleStats)
			r.Get("/{id}", s.handleGetTransaction)
			r.Get("/{id}/audit", s.handleAuditTrail)
			r.Post("/{id}/hold", s.handleHold)
			r.Post("/{id}/activate", s.handleActivate)
			r.Post("/{id}/release", s.handleReleaseFull)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Post("/{id}/milestones", s.handleAddMilestone)
			r.Post("/{id}/milestones/{milestoneID}/release", s.handleReleaseMilestone)
			r.Post("/{id}/disputes", s.handleFileDispute)
			r.Post("/{id}/disputes/{disputeID}/review", s.handleStartReview)
			r.With(s.requireRole(auth.RoleArbiter)).Post("/{id}/disputes/{disputeID}/resolve", s.handleResolveDispute)
		})

		r.Get("/api/disputes", s.handleOpenDisputes)
		r.Get("/api/milestones/upcoming", s.handleUpcomingMilestones)
		r.Get("/api/accounts/me/balance", s.handleOwnBalance)
		r.Get("/api/accounts/{userID}/balance", s.handleBalance)
	})

	return r
}
