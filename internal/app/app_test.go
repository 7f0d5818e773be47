package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/dizai/internal/app"
	"github.com/MrWong99/dizai/internal/config"
	"github.com/MrWong99/dizai/internal/exercise"
	"github.com/MrWong99/dizai/internal/observe"
	convmock "github.com/MrWong99/dizai/pkg/provider/conversation/mock"
	"github.com/MrWong99/dizai/pkg/provider/llm"
	llmmock "github.com/MrWong99/dizai/pkg/provider/llm/mock"
	"github.com/MrWong99/dizai/pkg/provider/stt"
	sttmock "github.com/MrWong99/dizai/pkg/provider/stt/mock"
)

const assistantReply = "```json\n" +
	`{"exerciseSetId":"restaurant-1","exercises":[{"exerciseId":"restaurant-1--0","phrase":"Uma mesa, por favor.","ipa":"ˈumɐ ˈmezɐ puɾ fɐˈvoɾ","phonetic":"OO-mah MAY-zah poor fah-VOHR"}]}` +
	"\n```"

const evaluationReply = `{"native":"uma mesa por favor","attempt":"uma mesa por favor","deviations":[]}`

// testConfig returns a defaulted config wired for fast polling.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Providers: config.ProvidersConfig{
			LLM:          config.ProviderEntry{Name: "openai"},
			STT:          config.ProviderEntry{Name: "openai"},
			Conversation: config.ProviderEntry{Name: "openai"},
		},
		Exercise: config.ExerciseConfig{
			AssistantID:  "asst_test",
			PollInterval: time.Millisecond,
			MaxPolls:     5,
		},
		Analysis: config.AnalysisConfig{RetryInterval: time.Millisecond},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// testProviders returns mocks that complete a full generate-then-analyze flow.
func testProviders() *app.Providers {
	return &app.Providers{
		LLM:          &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: evaluationReply}},
		STT:          &sttmock.Provider{Transcript: &stt.Transcript{Text: "uma mesa por favor"}},
		Conversation: &convmock.Service{Reply: assistantReply},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func analyzeRequest(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{
		"profile":       "Johan",
		"exerciseId":    "restaurant-1--0",
		"exerciseSetId": "restaurant-1",
	} {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, field := range []string{"audio", "ref"} {
		fw, err := mw.CreateFormFile(field, field+".webm")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte("fake " + field))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// mockDB implements feedback.DB.
type mockDB struct {
	mu      sync.Mutex
	execs   []string
	pingErr error
}

func (m *mockDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (m *mockDB) Ping(context.Context) error { return m.pingErr }

func (m *mockDB) inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.execs {
		if strings.Contains(q, "INSERT INTO feedback_logs") {
			n++
		}
	}
	return n
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestNew_MissingAssistantIDIsFatal(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Exercise.AssistantID = ""

	_, err := app.New(context.Background(), cfg, testProviders(), app.WithMetrics(testMetrics(t)))
	if !errors.Is(err, exercise.ErrConfiguration) {
		t.Fatalf("New() error = %v, want ErrConfiguration", err)
	}
}

func TestNew_NoProviders(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), nil)
	h := a.Handler()

	if rec := do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}
	if rec := do(h, httptest.NewRequest(http.MethodGet, "/readyz", nil)); rec.Code != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", rec.Code)
	}
	if rec := do(h, httptest.NewRequest(http.MethodGet, "/api/exercise_set", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("/api/exercise_set status = %d, want 404 without a conversation service", rec.Code)
	}
	if rec := do(h, httptest.NewRequest(http.MethodGet, "/api/feedback", nil)); rec.Code != http.StatusOK {
		t.Errorf("/api/feedback status = %d, want 200", rec.Code)
	}
}

func TestApp_GenerateAnalyzeAndRecord(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	a := newApp(t, testConfig(), testProviders(), app.WithFeedbackDB(db))
	h := a.Handler()

	// Generate.
	rec := do(h, httptest.NewRequest(http.MethodGet, "/api/exercise_set?profile=Johan&theme=restaurant", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("exercise_set status = %d", rec.Code)
	}
	var set exercise.ExerciseSet
	if err := json.Unmarshal(rec.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode set: %v", err)
	}
	if set.ExerciseSetID != "restaurant-1" || len(set.Exercises) != 1 {
		t.Fatalf("set = %+v", set)
	}

	// Client feedback on the generated set, then lookup by id.
	submit := httptest.NewRequest(http.MethodPost, "/api/feedback",
		strings.NewReader(`{"exerciseSetId":"restaurant-1","exerciseId":"restaurant-1--0","profile":"Johan","feedback":{"rating":4}}`))
	submit.Header.Set("Content-Type", "application/json")
	if rec := do(h, submit); rec.Code != http.StatusOK {
		t.Errorf("submit feedback status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/exercise_set/restaurant-1", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("exercise_set by id status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"responses":{"restaurant-1--0":{"rating":4}}`) {
		t.Errorf("exercise_set by id body = %s, want stored response", rec.Body.String())
	}

	// Analyze.
	rec = do(h, analyzeRequest(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Transcript string `json:"transcript"`
		Feedback   struct {
			Status     string  `json:"status"`
			Similarity float64 `json:"similarity"`
		} `json:"feedback"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode analysis: %v", err)
	}
	if res.Transcript != "uma mesa por favor" || res.Feedback.Status != "perfect" {
		t.Errorf("analysis = %+v", res)
	}
	if res.Feedback.Similarity != 100 {
		t.Errorf("similarity = %v, want 100", res.Feedback.Similarity)
	}

	// Shutdown drains the feedback queue into every sink.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if n := db.inserts(); n != 1 {
		t.Errorf("postgres inserts = %d, want 1", n)
	}

	rec = do(h, httptest.NewRequest(http.MethodGet, "/api/feedback?profile=Johan", nil))
	var hist struct {
		Feedback []struct {
			ExerciseID string `json:"exerciseId"`
		} `json:"feedback"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Feedback) != 1 || hist.Feedback[0].ExerciseID != "restaurant-1--0" {
		t.Errorf("history = %s", rec.Body.String())
	}
}

func TestApp_ReadinessReportsFeedbackStore(t *testing.T) {
	t.Parallel()

	db := &mockDB{pingErr: errors.New("connection refused")}
	a := newApp(t, testConfig(), testProviders(), app.WithFeedbackDB(db))

	rec := do(a.Handler(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status = %d, want 503", rec.Code)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body.Checks["feedback_store"], "fail") {
		t.Errorf("feedback_store check = %q, want fail", body.Checks["feedback_store"])
	}

	db.mu.Lock()
	migrated := len(db.execs) > 0 && strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS feedback_logs")
	db.mu.Unlock()
	if !migrated {
		t.Error("feedback schema was not migrated during New")
	}
}

func TestApp_LLMFallback(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	primary := &llmmock.Provider{CompleteErr: errors.New("503 overloaded")}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: evaluationReply}}
	providers.LLM = primary
	providers.LLMFallbacks = []app.Named[llm.Provider]{{Name: "anthropic", Provider: backup}}

	a := newApp(t, testConfig(), providers)
	h := a.Handler()

	rec := do(h, analyzeRequest(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"perfect"`) {
		t.Errorf("body = %s, want evaluation from fallback", rec.Body.String())
	}
	if primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("calls primary=%d backup=%d, want 1 and 1", primary.CallCount(), backup.CallCount())
	}

	rec = do(h, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if !strings.Contains(rec.Body.String(), `"llm":"ok"`) {
		t.Errorf("/readyz body = %s, want llm check ok", rec.Body.String())
	}
}

func TestApp_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), nil)
	rec := do(a.Handler(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rec.Code)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders())

	ctx, cancel := context.WithCancel(context.Background())

	// Run in background.
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	// Wait for the listener.
	deadline := time.Now().Add(5 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}

	// Cancel context to trigger shutdown.
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
