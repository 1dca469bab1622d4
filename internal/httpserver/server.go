// Package httpserver exposes the audit trail over REST for the business
// collaborators (destruction, signature, and custody workflows) that emit
// events, and for operators running verification.
package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/recordvault/audittrail/internal/audit"
	"github.com/recordvault/audittrail/internal/auth"
	"github.com/recordvault/audittrail/internal/keys"
)

// Server wires the recorder, workflow, and verifier behind HTTP handlers.
type Server struct {
	recorder      *audit.Recorder
	workflow      *audit.Workflow
	verifier      *audit.Verifier
	store         audit.Store
	registry      *keys.Registry
	jwtSecret     string
	requireReview bool
}

// Options configures a Server.
type Options struct {
	Recorder *audit.Recorder
	Workflow *audit.Workflow
	Verifier *audit.Verifier
	Store    audit.Store
	Registry *keys.Registry

	// JWTSecret enables bearer-token auth when non-empty.
	JWTSecret string

	// RequireReview gates lifecycle transitions behind the reviewer role.
	RequireReview bool
}

// New constructs a Server.
func New(opts Options) *Server {
	return &Server{
		recorder:      opts.Recorder,
		workflow:      opts.Workflow,
		verifier:      opts.Verifier,
		store:         opts.Store,
		registry:      opts.Registry,
		jwtSecret:     opts.JWTSecret,
		requireReview: opts.RequireReview,
	}
}

// Router builds the chi router for the service.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(auth.Middleware(s.jwtSecret))

	r.Get("/healthz", s.handleHealth)

	r.Post("/audit/{tenant}/events", s.handleLog)
	r.Get("/audit/{tenant}/events", s.handleList)
	r.Get("/audit/{tenant}/verify", s.handleVerify)
	r.Get("/audit/entries/{id}", s.handleGet)

	lifecycle := func(h http.HandlerFunc) http.Handler {
		if s.requireReview {
			return auth.RequireRole(auth.RoleReviewer)(h)
		}
		return h
	}
	r.Method(http.MethodPost, "/audit/entries/{id}/validate", lifecycle(s.handleValidate))
	r.Method(http.MethodPost, "/audit/entries/{id}/flag", lifecycle(s.handleFlag))
	r.Method(http.MethodPost, "/audit/entries/{id}/resolve", lifecycle(s.handleResolve))
	r.Method(http.MethodPost, "/audit/entries/{id}/archive", lifecycle(s.handleArchive))

	if s.registry != nil {
		r.Get("/audit/security/keys", s.registry.StatusHandler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unreachable: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type logRequest struct {
	EventType   string            `json:"eventType"`
	Description string            `json:"description"`
	Severity    string            `json:"severity,omitempty"`
	ActorID     string            `json:"actorId,omitempty"`
	TS          *time.Time        `json:"ts,omitempty"`
	Subject     *audit.SubjectRef `json:"subject,omitempty"`
	Details     string            `json:"details,omitempty"`
	BeforeState string            `json:"beforeState,omitempty"`
	AfterState  string            `json:"afterState,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var req logRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	opts := []audit.LogOption{}
	if req.Severity != "" {
		opts = append(opts, audit.WithSeverity(audit.Severity(req.Severity)))
	}
	if req.TS != nil {
		opts = append(opts, audit.WithTimestamp(*req.TS))
	}
	if req.Subject != nil {
		opts = append(opts, audit.WithSubject(req.Subject.Type, req.Subject.ID))
	}
	if req.Details != "" {
		opts = append(opts, audit.WithDetails(req.Details))
	}
	if req.BeforeState != "" || req.AfterState != "" {
		opts = append(opts, audit.WithStateChange(req.BeforeState, req.AfterState))
	}
	if req.Metadata != nil {
		opts = append(opts, audit.WithMetadata(req.Metadata))
	}

	// The acting principal comes from the request body only when the token
	// does not already identify one.
	actor := req.ActorID
	if p := auth.FromContext(r.Context()); p != nil {
		actor = p.ID
	}
	if actor != "" {
		opts = append(opts, audit.WithActor(actor))
	}

	entry, err := s.recorder.Log(r.Context(), tenant, audit.EventType(req.EventType), req.Description, opts...)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	entries, err := s.store.ListForTenant(r.Context(), tenant)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*audit.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	findings, err := s.verifier.VerifyTenant(r.Context(), tenant)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type finding struct {
		EntryID int64  `json:"entryId"`
		Kind    string `json:"kind"`
		Detail  string `json:"detail"`
	}
	out := make([]finding, 0, len(findings))
	for _, f := range findings {
		out = append(out, finding{EntryID: f.EntryID(), Kind: verificationKind(f), Detail: f.Error()})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenantId": tenant,
		"intact":   len(out) == 0,
		"findings": out,
	})
}

func verificationKind(f audit.VerificationError) string {
	switch f.(type) {
	case *audit.InvalidGenesisError:
		return "invalid_genesis"
	case *audit.BrokenLinkError:
		return "broken_link"
	case *audit.TamperedEntryError:
		return "tampered_entry"
	case *audit.SignatureError:
		return "invalid_signature"
	default:
		return "unknown"
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	entry, err := s.store.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflow.Validate)
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflow.FlagForReview)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflow.ResolveFlag)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflow.Archive)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (*audit.AuditEntry, error)) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}
	entry, err := fn(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid entry id")
		return 0, false
	}
	return id, true
}

// respondDomainError maps the audit error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	var (
		vErr    *audit.ValidationError
		immErr  *audit.ImmutableRecordError
		trErr   *audit.InvalidTransitionError
		cfErr   *audit.ConflictError
		busyErr *audit.BusyError
	)
	switch {
	case errors.As(err, &vErr):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &immErr):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &trErr):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &cfErr):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &busyErr):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, audit.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(body io.Reader, dst interface{}) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
