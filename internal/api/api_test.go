package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/fundops/harrier/internal/bus"
	"github.com/fundops/harrier/internal/cache"
	"github.com/fundops/harrier/internal/credits"
	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/export"
	"github.com/fundops/harrier/internal/money"
	"github.com/fundops/harrier/internal/repository"
	"github.com/fundops/harrier/internal/rules"
	"github.com/fundops/harrier/internal/run"
	"github.com/fundops/harrier/internal/volume"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func newTestRouter(t *testing.T) (*chi.Mux, domain.Repository) {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "harrier-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpfile.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpfile.Name(),
	})
	if err != nil {
		os.Remove(tmpfile.Name())
		t.Fatalf("failed to create repository: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	memCache := cache.NewLRUCache(100)

	t.Cleanup(func() {
		eventBus.Close()
		memCache.Close()
		repo.Close()
		os.Remove(tmpfile.Name())
	})

	vat := domain.VATTable{DefaultRate: money.MustParse("0.17")}
	orch := run.NewOrchestrator(
		repo,
		eventBus,
		credits.NewLedger(repo),
		volume.NewService(repo, memCache),
		vat,
		domain.EngineConfig{BatchSize: 4, ActorID: "test-api"},
	)
	verifier := export.NewVerifier(repo, eventBus)

	srv := NewServer(domain.ServerConfig{}, repo, memCache, eventBus, orch, verifier, "test")
	return srv.Router(), repo
}

func doJSON(t *testing.T, router *chi.Mux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("failed to decode response %s: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("Health", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var body map[string]string
		decodeBody(t, rec, &body)
		if body["status"] != "healthy" || body["version"] != "test" {
			t.Errorf("unexpected health body: %v", body)
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/ready", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)
	sample := rules.SampleRules()[1] // dist-standard-pct, percentage schedule

	t.Run("CreateAssignsVersionAndChecksum", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/rules", sample)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var created domain.Rule
		decodeBody(t, rec, &created)
		if created.Version != 1 {
			t.Errorf("expected version 1, got %d", created.Version)
		}
		if created.Checksum == "" {
			t.Error("expected sealed checksum")
		}
	})

	t.Run("RepostCreatesNextVersion", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/rules", sample)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}

		var created domain.Rule
		decodeBody(t, rec, &created)
		if created.Version != 2 {
			t.Errorf("expected version 2 on re-post, got %d", created.Version)
		}
	})

	t.Run("GetReturnsLatest", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/rules/"+sample.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var got domain.Rule
		decodeBody(t, rec, &got)
		if got.Version != 2 {
			t.Errorf("expected latest version 2, got %d", got.Version)
		}
	})

	t.Run("GetMissingIs404", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/rules/no-such-rule", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/rules", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var body struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 1 {
			t.Errorf("expected 1 latest rule, got %d", body.Count)
		}
	})

	t.Run("InvalidRuleRejectedWithProblems", func(t *testing.T) {
		bad := rules.SampleRules()[1]
		bad.Schedule = domain.PercentageSchedule{Rate: money.MustParse("-0.5")}

		rec := doJSON(t, router, http.MethodPost, "/rules", bad)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}

		var body struct {
			Problems []string `json:"problems"`
		}
		decodeBody(t, rec, &body)
		if len(body.Problems) == 0 {
			t.Error("expected validation problems in response")
		}
	})

	t.Run("MissingIDRejected", func(t *testing.T) {
		bad := rules.SampleRules()[1]
		bad.ID = ""

		rec := doJSON(t, router, http.MethodPost, "/rules", bad)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/rules/validate", rules.SampleRules()[0])
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var body struct {
			Valid    bool     `json:"valid"`
			Problems []string `json:"problems"`
		}
		decodeBody(t, rec, &body)
		if !body.Valid || len(body.Problems) != 0 {
			t.Errorf("expected valid rule, got %+v", body)
		}
	})
}

func TestEventEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("Create", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/events", EventRequest{
			InvestorName:    "Meridian Capital",
			FundName:        "Atlas Growth Fund",
			DistributorName: "NorthBridge Securities",
			Amount:          "150000",
			Date:            "2025-03-31T00:00:00Z",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var created domain.DistributionEvent
		decodeBody(t, rec, &created)
		if created.ID == "" {
			t.Error("expected server-assigned event ID")
		}
		if !created.Amount.Equal(decimal.RequireFromString("150000")) {
			t.Errorf("amount changed: %s", created.Amount)
		}

		get := doJSON(t, router, http.MethodGet, "/events/"+created.ID, nil)
		if get.Code != http.StatusOK {
			t.Errorf("expected 200 fetching created event, got %d", get.Code)
		}
	})

	t.Run("BadRequests", func(t *testing.T) {
		cases := []struct {
			name string
			req  EventRequest
		}{
			{"MissingNames", EventRequest{Amount: "100", Date: "2025-03-31T00:00:00Z"}},
			{"NonNumericAmount", EventRequest{InvestorName: "a", FundName: "b", Amount: "abc", Date: "2025-03-31T00:00:00Z"}},
			{"NegativeAmount", EventRequest{InvestorName: "a", FundName: "b", Amount: "-5", Date: "2025-03-31T00:00:00Z"}},
			{"BadDate", EventRequest{InvestorName: "a", FundName: "b", Amount: "100", Date: "31/03/2025"}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rec := doJSON(t, router, http.MethodPost, "/events", tc.req)
				if rec.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d", rec.Code)
				}
			})
		}
	})

	t.Run("GetMissingIs404", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/events/no-such-event", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestCreditEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("Create", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/credits", CreditRequest{
			InvestorName: "Meridian Capital",
			FundName:     "Atlas Growth Fund",
			Amount:       "500",
			DatePosted:   "2025-01-01T00:00:00Z",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var created domain.Credit
		decodeBody(t, rec, &created)
		if !created.RemainingBalance.Equal(created.OriginalAmount) {
			t.Errorf("new credit must open at full balance: %+v", created)
		}
	})

	t.Run("List", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/credits?investor=Meridian+Capital&fund=Atlas+Growth+Fund", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var body struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 1 {
			t.Errorf("expected 1 open credit, got %d", body.Count)
		}
	})

	t.Run("ListRequiresPair", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/credits?investor=Meridian+Capital", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("NonPositiveAmountRejected", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/credits", CreditRequest{
			InvestorName: "Meridian Capital",
			FundName:     "Atlas Growth Fund",
			Amount:       "0",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRunEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("CreateAndGet", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs", RunRequest{Name: "March close"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}

		var created domain.CalculationRun
		decodeBody(t, rec, &created)
		if created.Status != domain.RunDraft {
			t.Errorf("expected DRAFT, got %s", created.Status)
		}

		get := doJSON(t, router, http.MethodGet, "/runs/"+created.ID, nil)
		if get.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", get.Code)
		}
	})

	t.Run("NameRequired", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs", RunRequest{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("GetMissingIs404", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/runs/no-such-run", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("ExecuteMissingIs409", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/no-such-run/execute", nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, rule := range rules.SampleRules() {
		rec := doJSON(t, router, http.MethodPost, "/rules", rule)
		if rec.Code != http.StatusCreated {
			t.Fatalf("failed to seed rule %s: %d %s", rule.ID, rec.Code, rec.Body.String())
		}
	}

	var calcRun domain.CalculationRun
	rec := doJSON(t, router, http.MethodPost, "/runs", RunRequest{Name: "March close"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to create run: %d", rec.Code)
	}
	decodeBody(t, rec, &calcRun)

	t.Run("ExecuteWithoutEventsIs422", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/"+calcRun.ID+"/execute", nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	rec = doJSON(t, router, http.MethodPost, "/events", EventRequest{
		RunID:           calcRun.ID,
		InvestorName:    "Meridian Capital",
		FundName:        "Atlas Growth Fund",
		DistributorName: "NorthBridge Securities",
		ReferrerName:    "Harbor Advisory",
		PartnerName:     "Crestline Partners",
		Amount:          "150000",
		Date:            "2025-03-31T00:00:00Z",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to create event: %d %s", rec.Code, rec.Body.String())
	}

	t.Run("ApproveBeforeExecuteIs409", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/"+calcRun.ID+"/approve", ApproveRequest{ApprovedBy: "ops@fundops"})
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("Execute", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/"+calcRun.ID+"/execute", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var report domain.RunReport
		decodeBody(t, rec, &report)
		if !report.Success {
			t.Fatalf("expected success, got %v", report.Errors)
		}
		if !report.TotalGross.Equal(decimal.RequireFromString("2750")) {
			t.Errorf("expected total gross 2750, got %s", report.TotalGross)
		}
	})

	t.Run("Results", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/runs/"+calcRun.ID+"/results", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var body struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 3 {
			t.Errorf("expected 3 results, got %d", body.Count)
		}
	})

	t.Run("ApproveRequiresApprover", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/"+calcRun.ID+"/approve", ApproveRequest{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("Approve", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/"+calcRun.ID+"/approve", ApproveRequest{ApprovedBy: "ops@fundops"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var approved domain.CalculationRun
		decodeBody(t, rec, &approved)
		if approved.Status != domain.RunApproved || approved.ApprovedBy != "ops@fundops" {
			t.Errorf("approval not reflected: %+v", approved)
		}
	})

	t.Run("ExportShape", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/runs/"+calcRun.ID+"/exports/summary", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var body struct {
			Shape    string `json:"shape"`
			RowCount int    `json:"rowCount"`
			Checksum string `json:"checksum"`
		}
		decodeBody(t, rec, &body)
		if body.Shape != export.ShapeSummary || body.RowCount == 0 || body.Checksum == "" {
			t.Errorf("unexpected export body: %+v", body)
		}
	})

	t.Run("UnknownShapeIs400", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/runs/"+calcRun.ID+"/exports/ledger", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("ReplayBeforeLockIs409", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/"+calcRun.ID+"/replay", nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("Lock", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/"+calcRun.ID+"/lock", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var locked domain.CalculationRun
		decodeBody(t, rec, &locked)
		if locked.Status != domain.RunLocked || len(locked.ShapeChecksums) != len(export.ShapeNames) {
			t.Errorf("lock not reflected: %+v", locked)
		}
	})

	t.Run("Exports", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/runs/"+calcRun.ID+"/exports", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var body struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != len(export.ShapeNames) {
			t.Errorf("expected %d export jobs, got %d", len(export.ShapeNames), body.Count)
		}
	})

	t.Run("Replay", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/"+calcRun.ID+"/replay", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var report export.ReplayReport
		decodeBody(t, rec, &report)
		if report.Overall != export.VerdictMatch {
			t.Errorf("expected MATCH, got %s: %+v", report.Overall, report.Verdicts)
		}
	})

	t.Run("ExecuteLockedIs409", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/runs/"+calcRun.ID+"/execute", nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})
}
