package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kilupskalvis/oreg/internal/kvstore"
	"github.com/kilupskalvis/oreg/internal/ledger"
	"github.com/kilupskalvis/oreg/internal/remote"
	"github.com/kilupskalvis/oreg/internal/version"
)

// Config holds configurable limits for the server.
type Config struct {
	MaxRequestBody    int64  // bytes, for JSON endpoints
	RequestsPerMinute int    // per-client rate limit
	AuthToken         string // static API token; empty disables auth
	AdminToken        string // for admin endpoints
	Webhooks          *WebhookNotifier
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRequestBody:    4 * 1024 * 1024, // 4MB
		RequestsPerMinute: 300,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(reg *ledger.Ledger, cfg *Config, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := newRateLimiter(cfg.RequestsPerMinute)
	auth := authMiddleware(cfg.AuthToken)
	s := &registryServer{reg: reg, cfg: cfg, logger: logger}

	// Execution order: auth -> rate limit -> handler
	withAuth := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, rl.middleware)
	}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	// Admin endpoints
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/objects/{name}/audit", s.handleAudit)
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	// Environments and aliases
	mux.Handle("PUT /api/v1/objects/{name}/environments/{env}", withAuth(s.handleCreateEnvironment))
	mux.Handle("PUT /api/v1/objects/{name}/aliases/{alias}", withAuth(s.handleCreateAlias))
	mux.Handle("GET /api/v1/objects/{name}/environments", withAuth(s.handleListEnvironments))

	// Variants and versions
	mux.Handle("PUT /api/v1/objects/{name}/environments/{env}/versions/{version}/variants/{variant}", withAuth(s.handlePublish))
	mux.Handle("GET /api/v1/objects/{name}/environments/{env}/versions/{version}/variants/{variant}", withAuth(s.handleGetVariant))
	mux.Handle("GET /api/v1/objects/{name}/environments/{env}/versions/{version}/variants", withAuth(s.handleGetVariants))
	mux.Handle("GET /api/v1/objects/{name}/environments/{env}/versions", withAuth(s.handleListVersions))

	// Head pointers and history
	mux.Handle("GET /api/v1/objects/{name}/environments/{env}/head", withAuth(s.handleGetHead))
	mux.Handle("PUT /api/v1/objects/{name}/environments/{env}/head", withAuth(s.handleSetHead))
	mux.Handle("POST /api/v1/objects/{name}/environments/{env}/rollback", withAuth(s.handleRollback))
	mux.Handle("GET /api/v1/objects/{name}/environments/{env}/history", withAuth(s.handleHistory))
	mux.Handle("GET /api/v1/objects/{name}/heads", withAuth(s.handleGetHeads))

	// Deletion
	mux.Handle("DELETE /api/v1/objects/{name}/environments/{env}/versions/{version}/variants/{variant}", withAuth(s.handleDeleteVariant))
	mux.Handle("DELETE /api/v1/objects/{name}/environments/{env}/versions/{version}", withAuth(s.handleDeleteVersion))
	mux.Handle("DELETE /api/v1/objects/{name}/environments/{env}", withAuth(s.handleDeleteObject))

	// Apply global middleware
	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
	)

	cleanup := func() {
		rl.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type registryServer struct {
	reg    *ledger.Ledger
	cfg    *Config
	logger *slog.Logger
}

// resolveEnv maps the path's environment segment (canonical name or alias)
// to the canonical environment.
func (s *registryServer) resolveEnv(w http.ResponseWriter, r *http.Request) (name, env string, ok bool) {
	name = r.PathValue("name")
	env, err := s.reg.Environments.Resolve(r.Context(), name, r.PathValue("env"))
	if err != nil {
		s.writeError(w, err)
		return "", "", false
	}
	return name, env, true
}

// --- Environment Handlers ---

func (s *registryServer) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	env := r.PathValue("env")

	if err := s.reg.Environments.Create(r.Context(), name, env); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *registryServer) handleCreateAlias(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	alias := r.PathValue("alias")

	var req remote.CreateAliasRequest
	if err := readJSON(r, s.cfg.MaxRequestBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
		return
	}
	if req.Environment == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "environment is required"})
		return
	}

	// The target may itself be an alias; aliases always chain to canonical.
	env, err := s.reg.Environments.Resolve(r.Context(), name, req.Environment)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.reg.Environments.CreateAlias(r.Context(), name, env, alias); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *registryServer) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.reg.Environments.List(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

// --- Variant Handlers ---

func (s *registryServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ver := r.PathValue("version")
	variant := r.PathValue("variant")

	var req remote.PublishRequest
	if err := readJSON(r, s.cfg.MaxRequestBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
		return
	}
	if len(req.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "data is required"})
		return
	}

	// A forced publish may target an environment that does not exist yet,
	// in which case the raw path segment becomes the canonical name.
	env, err := s.reg.Environments.Resolve(r.Context(), name, r.PathValue("env"))
	if err != nil {
		if !req.ForceCreateEnv || !errors.Is(err, ledger.ErrNotFound) {
			s.writeError(w, err)
			return
		}
		env = r.PathValue("env")
	}

	// Answer from the write itself: a read-back would race concurrent
	// deletes and drops records published with an already-past expiration.
	stored, err := s.reg.Variants.Put(r.Context(), ledger.PutRequest{
		Name:           name,
		Env:            env,
		Version:        ver,
		Variant:        variant,
		Data:           req.Data,
		Expiration:     req.Expiration,
		ForceCreateEnv: req.ForceCreateEnv,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *registryServer) handleGetVariant(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}

	v, err := s.reg.Variants.Get(r.Context(), name, env, r.PathValue("version"), r.PathValue("variant"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *registryServer) handleGetVariants(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}
	ver := r.PathValue("version")

	if names := r.URL.Query().Get("names"); names != "" {
		vs, err := s.reg.Variants.GetMany(r.Context(), name, env, ver, strings.Split(names, ","))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, vs)
		return
	}

	vs, err := s.reg.Variants.GetAll(r.Context(), name, env, ver)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *registryServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}

	versions, err := s.reg.Variants.Versions(r.Context(), name, env)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if versions == nil {
		versions = []string{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// --- Head Handlers ---

func (s *registryServer) handleGetHead(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}

	head, err := s.reg.Heads.Get(r.Context(), name, env)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, head)
}

func (s *registryServer) handleGetHeads(w http.ResponseWriter, r *http.Request) {
	heads, err := s.reg.Heads.GetAll(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heads)
}

func (s *registryServer) handleSetHead(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}

	var req remote.SetHeadRequest
	if err := readJSON(r, s.cfg.MaxRequestBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
		return
	}
	if req.Version == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "version is required"})
		return
	}

	// The CAS path never checks what the version points at, so reject
	// versions with no live variants before entering it.
	variants, err := s.reg.Variants.GetAll(r.Context(), name, env, req.Version)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(variants) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":   "validation_failed",
			"message": fmt.Sprintf("version %s has no variants in environment '%s'", req.Version, env),
		})
		return
	}

	ts, err := s.reg.Heads.Set(r.Context(), name, env, req.Version, req.PreviousTimestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.cfg.Webhooks.NotifyHeadChange("promote", name, env, &req.Version)
	writeJSON(w, http.StatusOK, &remote.SetHeadResponse{Timestamp: ts})
}

func (s *registryServer) handleRollback(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}

	var req remote.RollbackRequest
	if err := readJSON(r, s.cfg.MaxRequestBody, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": err.Error()})
		return
	}
	if req.Hops < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "hops must be at least 1"})
		return
	}

	head, err := s.reg.Heads.Rollback(r.Context(), name, env, req.Hops)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.cfg.Webhooks.NotifyHeadChange("rollback", name, env, head.HeadVersion)
	writeJSON(w, http.StatusOK, head)
}

func (s *registryServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}

	records, err := s.reg.History.List(r.Context(), name, env)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Deletion Handlers ---

func (s *registryServer) handleDeleteVariant(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}

	err := s.reg.Variants.DeleteVariant(r.Context(), name, env, r.PathValue("version"), r.PathValue("variant"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.auditAfterDelete(r, name, env)
	w.WriteHeader(http.StatusOK)
}

func (s *registryServer) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}

	if err := s.reg.Variants.DeleteVersion(r.Context(), name, env, r.PathValue("version")); err != nil {
		s.writeError(w, err)
		return
	}

	s.auditAfterDelete(r, name, env)
	w.WriteHeader(http.StatusOK)
}

func (s *registryServer) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	name, env, ok := s.resolveEnv(w, r)
	if !ok {
		return
	}

	if err := s.reg.Variants.DeleteObject(r.Context(), name, env); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// auditAfterDelete repairs head and latest pointers left dangling by a
// deletion. Best effort: the pointers stay repairable on the next sweep.
func (s *registryServer) auditAfterDelete(r *http.Request, name, env string) {
	repaired, err := s.reg.Audit.CheckAndRepair(r.Context(), name, env)
	if err != nil {
		s.logger.Warn("post-delete audit failed", "object", name, "environment", env, "error", err)
		return
	}
	if repaired {
		s.logger.Info("post-delete audit repaired pointers", "object", name, "environment", env)
	}
}

// --- Admin Handlers ---

func (s *registryServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	envs, err := s.reg.Environments.List(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := &remote.AuditResponse{Results: make([]remote.AuditResult, 0, len(envs))}
	for _, env := range envs {
		repaired, err := s.reg.Audit.CheckAndRepair(r.Context(), name, env.Env)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Results = append(resp.Results, remote.AuditResult{Environment: env.Env, Repaired: repaired})
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *registryServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.reg.Environments.List(r.Context(), "_readyz"); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready: store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Admin Auth ---

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "auth_failed", "message": "invalid admin token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

// writeError maps ledger error kinds onto HTTP statuses.
func (s *registryServer) writeError(w http.ResponseWriter, err error) {
	var invalid *version.ErrInvalid
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_version", "message": err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ledger.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already_exists", "message": err.Error()})
	case errors.Is(err, ledger.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "message": err.Error()})
	case errors.Is(err, ledger.ErrConditionFailed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "condition_failed", "message": err.Error()})
	case errors.Is(err, kvstore.ErrTooManyItems):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "too_many_items", "message": err.Error()})
	default:
		s.logger.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
