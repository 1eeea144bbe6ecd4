package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/export"
	"github.com/fundops/harrier/internal/repository"
	"github.com/fundops/harrier/internal/rules"
	"github.com/fundops/harrier/internal/run"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	orchestrator *run.Orchestrator
	verifier     *export.Verifier
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, orchestrator *run.Orchestrator, verifier *export.Verifier, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		orchestrator: orchestrator,
		verifier:     verifier,
		version:      version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// EventRequest is the request body for POST /events.
type EventRequest struct {
	RunID           string `json:"runId"`
	InvestorName    string `json:"investorName"`
	FundName        string `json:"fundName"`
	DistributorName string `json:"distributorName,omitempty"`
	ReferrerName    string `json:"referrerName,omitempty"`
	PartnerName     string `json:"partnerName,omitempty"`
	Amount          string `json:"amount"`
	Date            string `json:"date"`
}

// CreateEvent ingests one distribution event.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.InvestorName == "" || req.FundName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "investorName and fundName are required",
		})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be a positive decimal string",
		})
		return
	}

	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "date must be RFC 3339",
		})
		return
	}

	event := &domain.DistributionEvent{
		ID:              uuid.New().String(),
		RunID:           req.RunID,
		InvestorName:    req.InvestorName,
		FundName:        req.FundName,
		DistributorName: req.DistributorName,
		ReferrerName:    req.ReferrerName,
		PartnerName:     req.PartnerName,
		Amount:          amount,
		Date:            date.UTC(),
		CreatedAt:       time.Now().UTC(),
	}

	if err := h.repo.SaveEvent(ctx, event); err != nil {
		slog.Error("failed to save event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save event",
		})
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// GetEvent retrieves a distribution event by ID.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	event, err := h.repo.GetEvent(r.Context(), eventID)
	if err != nil {
		writeNotFoundOrError(w, err, "event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// ListRules returns the latest active rule versions.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	active, err := h.repo.ListActiveRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": active,
		"count": len(active),
	})
}

// GetRule retrieves the latest version of a rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetLatestRule(r.Context(), ruleID)
	if err != nil {
		writeNotFoundOrError(w, err, "rule")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule creates a new rule version. Edits never mutate an existing
// version: the server assigns version = latest + 1 and seals the content
// checksum before saving.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule body: " + err.Error(),
		})
		return
	}

	if rule.ID == "" || rule.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}

	if problems := rules.Validate(&rule); len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "rule failed validation",
			"problems": problems,
		})
		return
	}

	version := 1
	if latest, err := h.repo.GetLatestRule(ctx, rule.ID); err == nil {
		version = latest.Version + 1
	} else if !errors.Is(err, repository.ErrNotFound) {
		slog.Error("failed to resolve rule version", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to resolve rule version",
		})
		return
	}
	rule.Version = version

	if err := rules.Seal(&rule); err != nil {
		slog.Error("failed to seal rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute rule checksum",
		})
		return
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", rule.ID, "version", rule.Version, "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

// ValidateRule runs structural validation without persisting anything.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule body: " + err.Error(),
		})
		return
	}

	problems := rules.Validate(&rule)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}

// CreditRequest is the request body for POST /credits.
type CreditRequest struct {
	InvestorName string `json:"investorName"`
	FundName     string `json:"fundName"`
	Amount       string `json:"amount"`
	DatePosted   string `json:"datePosted"`
}

// CreateCredit posts a new credit balance for an (investor, fund) pair.
func (h *Handler) CreateCredit(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.InvestorName == "" || req.FundName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "investorName and fundName are required",
		})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be a positive decimal string",
		})
		return
	}

	posted := time.Now().UTC()
	if req.DatePosted != "" {
		posted, err = time.Parse(time.RFC3339, req.DatePosted)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "datePosted must be RFC 3339",
			})
			return
		}
		posted = posted.UTC()
	}

	credit := &domain.Credit{
		ID:               uuid.New().String(),
		InvestorName:     req.InvestorName,
		FundName:         req.FundName,
		OriginalAmount:   amount,
		RemainingBalance: amount,
		DatePosted:       posted,
		CreatedAt:        time.Now().UTC(),
	}

	if err := h.repo.SaveCredit(r.Context(), credit); err != nil {
		slog.Error("failed to save credit", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save credit",
		})
		return
	}

	writeJSON(w, http.StatusCreated, credit)
}

// ListCredits returns the open credits of an (investor, fund) pair.
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	investor := r.URL.Query().Get("investor")
	fund := r.URL.Query().Get("fund")
	if investor == "" || fund == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "investor and fund query parameters are required",
		})
		return
	}

	open, err := h.repo.ListOpenCredits(r.Context(), investor, fund)
	if err != nil {
		slog.Error("failed to list credits", "investor", investor, "fund", fund, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list credits",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"credits": open,
		"count":   len(open),
	})
}

// RunRequest is the request body for POST /runs.
type RunRequest struct {
	Name string `json:"name"`
}

// CreateRun creates a new calculation run in DRAFT.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	now := time.Now().UTC()
	newRun := &domain.CalculationRun{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Status:     domain.RunDraft,
		TotalGross: decimal.Zero,
		TotalVAT:   decimal.Zero,
		TotalNet:   decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.repo.SaveRun(r.Context(), newRun); err != nil {
		slog.Error("failed to save run", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save run",
		})
		return
	}

	writeJSON(w, http.StatusCreated, newRun)
}

// GetRun retrieves a calculation run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	calcRun, err := h.repo.GetRun(r.Context(), runID)
	if err != nil {
		writeNotFoundOrError(w, err, "run")
		return
	}

	writeJSON(w, http.StatusOK, calcRun)
}

// ListResults retrieves all calculation results of a run.
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	results, err := h.repo.ListResultsByRun(r.Context(), runID)
	if err != nil {
		slog.Error("failed to list results", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list results",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// ExecuteRun computes all commissions for a run.
func (h *Handler) ExecuteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	report, err := h.orchestrator.ExecuteRun(r.Context(), runID)
	if err != nil {
		slog.Error("run execution failed", "run_id", runID, "error", err)
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
		return
	}

	status := http.StatusOK
	if !report.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}

// ApproveRequest is the request body for POST /runs/{id}/approve.
type ApproveRequest struct {
	ApprovedBy string `json:"approvedBy"`
}

// ApproveRun approves a run awaiting approval.
func (h *Handler) ApproveRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ApprovedBy == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "approvedBy is required",
		})
		return
	}

	calcRun, err := h.orchestrator.Approve(r.Context(), runID, req.ApprovedBy)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, calcRun)
}

// RejectRun returns a run awaiting approval to DRAFT.
func (h *Handler) RejectRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	calcRun, err := h.orchestrator.Reject(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, calcRun)
}

// LockRun finalizes an approved run and pins its export checksums.
func (h *Handler) LockRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	calcRun, err := h.orchestrator.Lock(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, calcRun)
}

// ListExports retrieves export jobs for a run.
func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	jobs, err := h.repo.ListExportJobs(r.Context(), runID)
	if err != nil {
		slog.Error("failed to list exports", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list exports",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"exports": jobs,
		"count":   len(jobs),
	})
}

// GetExportShape renders one export shape for a run from its stored
// results. The checksum is included so consumers can verify integrity.
func (h *Handler) GetExportShape(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	shape := chi.URLParam(r, "shape")

	known := false
	for _, name := range export.ShapeNames {
		if name == shape {
			known = true
			break
		}
	}
	if !known {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown export shape: " + shape,
		})
		return
	}

	results, err := h.repo.ListResultsByRun(r.Context(), runID)
	if err != nil {
		slog.Error("failed to load results for export", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load results",
		})
		return
	}

	shapes := export.Build(results)
	rows := shapes.Rows(shape)
	checksum, err := export.ChecksumRows(rows)
	if err != nil {
		slog.Error("failed to checksum export", "run_id", runID, "shape", shape, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to checksum export",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":    runID,
		"shape":    shape,
		"rows":     rows,
		"rowCount": len(rows),
		"checksum": checksum,
	})
}

// ReplayRun verifies a locked run by deterministic replay.
func (h *Handler) ReplayRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	report, err := h.verifier.Replay(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
		return
	}

	status := http.StatusOK
	if report.Overall != export.VerdictMatch {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func writeNotFoundOrError(w http.ResponseWriter, err error, kind string) {
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": kind + " not found",
		})
		return
	}
	slog.Error("failed to load "+kind, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "failed to load " + kind,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
