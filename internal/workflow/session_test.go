package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"forecaster/internal/auth"
	"forecaster/internal/backend"
	"forecaster/internal/forecast"
	"forecaster/internal/model"
	"forecaster/internal/schema"
)

// fakeAPI 模拟预测服务
type fakeAPI struct {
	mu        sync.Mutex
	token     string
	expired   bool
	mappingID string
	saves     int
	lastSave  map[string]any
}

func (f *fakeAPI) setExpired(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = v
}

func (f *fakeAPI) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")

	api.POST("/auth/login", func(c *gin.Context) {
		if c.PostForm("password") != "secret" {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": f.token, "token_type": "bearer"})
	})

	authed := api.Group("", func(c *gin.Context) {
		f.mu.Lock()
		ok := !f.expired && c.GetHeader("Authorization") == "Bearer "+f.token
		f.mu.Unlock()
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
			return
		}
		c.Next()
	})

	authed.POST("/schema/detect-columns", func(c *gin.Context) {
		if _, err := c.FormFile("file"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"dimensions":       gin.H{"product": []string{"sku"}, "location": []string{"store_id"}, "time": []string{"date"}},
			"metrics":          []string{"qty"},
			"external_drivers": []string{},
		})
	})
	authed.POST("/schema/mappings", func(c *gin.Context) {
		var body map[string]any
		_ = c.ShouldBindJSON(&body)
		f.mu.Lock()
		f.saves++
		f.lastSave = body
		id := f.mappingID
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"id": id})
	})
	authed.POST("/forecast/generate", func(c *gin.Context) {
		var body struct {
			MappingID string `json:"mapping_id"`
		}
		_ = c.ShouldBindJSON(&body)
		if body.MappingID != "7" {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Schema mapping not found"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": "job-1", "status": "queued"})
	})
	authed.GET("/forecast/jobs/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "status": "completed", "result": gin.H{"values": []int{4, 5, 6}}})
	})
	return r
}

type harness struct {
	api     *fakeAPI
	session *Session
	tokens  *auth.MemoryStore
	file    model.FileRef
}

func newHarness(t *testing.T, storedToken string) *harness {
	t.Helper()
	return newHarnessWith(t, storedToken, nil)
}

// newHarnessWith configure 可为空，用于在创建会话前调整依赖
func newHarnessWith(t *testing.T, storedToken string, configure func(*Options)) *harness {
	t.Helper()

	api := &fakeAPI{token: "tok-1", mappingID: "7"}
	srv := httptest.NewServer(api.router())
	t.Cleanup(srv.Close)

	holder := &auth.Holder{}
	client := backend.NewClient(&backend.ClientConfig{
		BaseURL:     srv.URL + "/api/v1",
		Timeout:     5 * time.Second,
		MaxRetries:  -1,
		RateLimit:   1000,
		RateBurst:   100,
		TokenSource: holder.Get,
	})
	tokens := auth.NewMemoryStore(storedToken)

	opts := Options{
		Backend:           client,
		Coordinator:       forecast.NewCoordinator(client, forecast.Options{PollInterval: time.Millisecond, MaxHorizon: 52}),
		Tokens:            tokens,
		Holder:            holder,
		MaxUploadBytes:    100 << 20,
		AllowedExtensions: []string{"csv", "xlsx", "parquet"},
	}
	if configure != nil {
		configure(&opts)
	}
	s := NewSession(opts)
	t.Cleanup(s.Teardown)

	content := []byte("sku,store_id,date,qty\nA,1,2024-01-01,3\n")
	path := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	return &harness{
		api:     api,
		session: s,
		tokens:  tokens,
		file:    model.FileRef{Path: path, Name: "sales.csv", SizeBytes: int64(len(content))},
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	if err := h.session.Login(context.Background(), backend.Credentials{Email: "ana@example.com", Password: "secret"}); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func (h *harness) upload(t *testing.T) {
	t.Helper()
	if _, err := h.session.Upload(context.Background(), h.file, nil); err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func (h *harness) mapAll(t *testing.T) {
	t.Helper()
	for field, col := range map[string]string{"product": "sku", "location": "store_id", "time": "date", "target_metric": "qty"} {
		if _, err := h.session.SetMapping(field, col); err != nil {
			t.Fatalf("set mapping %s: %v", field, err)
		}
	}
}

func waitStep(t *testing.T, s *Session, want Step) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Snapshot().Step == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("step = %s, want %s", s.Snapshot().Step, want)
}

func TestSession_EndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.login(t)
	if tok, _ := h.tokens.Load(); tok != "tok-1" {
		t.Fatalf("token not persisted: %q", tok)
	}

	h.upload(t)
	snap := h.session.Snapshot()
	if snap.Step != StepSchema {
		t.Fatalf("step after upload = %s", snap.Step)
	}
	want := model.DetectedColumns{
		Dimensions:      model.Dimensions{Product: []string{"sku"}, Location: []string{"store_id"}, Time: []string{"date"}},
		Metrics:         []string{"qty"},
		ExternalDrivers: []string{},
	}
	if !reflect.DeepEqual(snap.Dataset.DetectedColumns, want) {
		t.Fatalf("detected columns = %+v", snap.Dataset.DetectedColumns)
	}

	h.mapAll(t)
	res, tr, err := h.session.ValidateAndContinue(context.Background())
	if err != nil {
		t.Fatalf("validate and continue: %v", err)
	}
	if !res.IsValid || len(res.MissingRequired) != 0 || res.MappedCount != 4 {
		t.Fatalf("validation = %+v", res)
	}
	if !tr.Accepted || tr.To != StepForecast {
		t.Fatalf("transition = %+v", tr)
	}

	run, err := h.session.StartForecast(context.Background(), model.ForecastConfig{})
	if err != nil {
		t.Fatalf("start forecast: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := run.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != model.RunSucceeded || len(final.Result) == 0 {
		t.Fatalf("run = %+v", final)
	}
	if final.Config.Model != model.ModelAuto || final.Config.HorizonPeriods != 12 {
		t.Fatalf("config defaults not applied: %+v", final.Config)
	}

	waitStep(t, h.session, StepResult)
	if cur, ok := h.session.CurrentRun(); !ok || cur.ID() != final.ID {
		t.Fatal("current run not attached")
	}
}

func TestSession_InvalidConfigKeepsSucceededRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.login(t)
	h.upload(t)
	h.mapAll(t)
	if _, _, err := h.session.ValidateAndContinue(context.Background()); err != nil {
		t.Fatalf("validate and continue: %v", err)
	}
	run, err := h.session.StartForecast(context.Background(), model.ForecastConfig{})
	if err != nil {
		t.Fatalf("start forecast: %v", err)
	}
	<-run.Done()
	waitStep(t, h.session, StepResult)
	before := h.session.Snapshot()

	_, err = h.session.StartForecast(context.Background(), model.ForecastConfig{Model: model.ModelAuto, HorizonPeriods: 999})
	if !errors.Is(err, model.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	after := h.session.Snapshot()
	if after.Step != StepResult || after.RunID != before.RunID || after.RunStatus != model.RunSucceeded {
		t.Fatalf("rejected config changed state: %+v", after.State)
	}
	if cur, ok := h.session.CurrentRun(); !ok || cur.ID() != run.ID() {
		t.Fatal("succeeded run detached by rejected config")
	}
}

func TestSession_PartialMappingDoesNotSubmit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.login(t)
	h.upload(t)

	if _, err := h.session.SetMapping("product", "sku"); err != nil {
		t.Fatalf("set mapping: %v", err)
	}
	res, tr, err := h.session.ValidateAndContinue(context.Background())
	if err != nil {
		t.Fatalf("validation of partial mapping returned error: %v", err)
	}
	if res.IsValid || !reflect.DeepEqual(res.MissingRequired, []string{"location", "time", "target_metric"}) {
		t.Fatalf("validation = %+v", res)
	}
	if tr.Accepted || h.session.Snapshot().Step != StepSchema {
		t.Fatalf("transition = %+v", tr)
	}
	if h.api.saves != 0 {
		t.Fatalf("mapping submitted %d times", h.api.saves)
	}
}

func TestSession_InvalidMappingIDFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.api.mappingID = "99"
	h.login(t)
	h.upload(t)
	h.mapAll(t)
	if _, _, err := h.session.ValidateAndContinue(context.Background()); err != nil {
		t.Fatalf("validate and continue: %v", err)
	}

	run, err := h.session.StartForecast(context.Background(), model.ForecastConfig{Model: model.ModelAuto, HorizonPeriods: 12})
	if err != nil {
		t.Fatalf("start forecast: %v", err)
	}
	<-run.Done()
	final := run.Snapshot()
	if final.Status != model.RunFailed || final.Error != "Schema mapping not found" {
		t.Fatalf("run = %+v", final)
	}

	time.Sleep(10 * time.Millisecond)
	if got := h.session.Snapshot().Step; got != StepForecast {
		t.Fatalf("step after failed run = %s", got)
	}
	if !h.session.Status().LoggedIn {
		t.Fatal("non-auth failure logged the session out")
	}
}

func TestSession_UnauthorizedLogsOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.login(t)
	h.upload(t)
	h.mapAll(t)

	h.api.setExpired(true)
	_, _, err := h.session.ValidateAndContinue(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	if h.session.Status().LoggedIn {
		t.Fatal("session still logged in")
	}
	snap := h.session.Snapshot()
	if snap.Step != StepUpload || snap.Dataset != nil || len(snap.Mapping) != 0 {
		t.Fatalf("workflow not reset: %+v", snap.State)
	}
	if tok, _ := h.tokens.Load(); tok != "" {
		t.Fatalf("token not cleared: %q", tok)
	}
	if _, err := h.session.Upload(context.Background(), h.file, nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("upload after expiry: %v", err)
	}
}

func TestSession_RequiresLogin(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	if _, err := h.session.Upload(context.Background(), h.file, nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	err := h.session.Login(context.Background(), backend.Credentials{Email: "ana@example.com", Password: "wrong"})
	var subErr *SubmissionError
	if !errors.As(err, &subErr) || subErr.Detail != "Incorrect username or password" {
		t.Fatalf("login error = %v", err)
	}
}

func TestSession_InitRestoresToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "tok-1")
	if err := h.session.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !h.session.Status().LoggedIn {
		t.Fatal("stored token not restored")
	}
	h.upload(t)
}

func TestSession_InitDropsExpiredToken(t *testing.T) {
	t.Parallel()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ana@example.com",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	h := newHarness(t, expired)
	if err := h.session.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if h.session.Status().LoggedIn {
		t.Fatal("expired token accepted")
	}
	if tok, _ := h.tokens.Load(); tok != "" {
		t.Fatal("expired token not cleared")
	}
}

func TestSession_RemapAfterForecastInvalidatesRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.login(t)
	h.upload(t)
	h.mapAll(t)
	if _, _, err := h.session.ValidateAndContinue(context.Background()); err != nil {
		t.Fatalf("validate and continue: %v", err)
	}
	run, err := h.session.StartForecast(context.Background(), model.ForecastConfig{})
	if err != nil {
		t.Fatalf("start forecast: %v", err)
	}
	<-run.Done()
	waitStep(t, h.session, StepResult)

	if tr := h.session.Navigate(StepSchema); !tr.Accepted {
		t.Fatalf("navigate back = %+v", tr)
	}
	if _, ok := h.session.CurrentRun(); !ok {
		t.Fatal("navigation dropped the run")
	}

	tr, err := h.session.SetMapping("time", "")
	if err != nil {
		t.Fatalf("clear mapping: %v", err)
	}
	if !tr.Invalidated {
		t.Fatalf("edit did not invalidate: %+v", tr)
	}
	if _, ok := h.session.CurrentRun(); ok {
		t.Fatal("run survived re-map")
	}
	if tr := h.session.Navigate(StepForecast); tr.Accepted {
		t.Fatal("forecast reachable with incomplete mapping")
	}
}

func TestSession_SavesMappingWithConfiguredCatalog(t *testing.T) {
	t.Parallel()

	catalog := append(schema.DefaultCatalog(), model.SchemaField{
		ID: "weather", Label: "Weather", Category: model.CategoryDrivers,
	})
	h := newHarnessWith(t, "", func(o *Options) { o.Catalog = catalog })
	h.login(t)
	h.upload(t)
	h.mapAll(t)
	if _, err := h.session.SetMapping("weather", "qty"); err != nil {
		t.Fatalf("set mapping: %v", err)
	}
	if _, _, err := h.session.ValidateAndContinue(context.Background()); err != nil {
		t.Fatalf("validate and continue: %v", err)
	}

	h.api.mu.Lock()
	body := h.api.lastSave
	h.api.mu.Unlock()
	drivers, _ := body["external_drivers"].(map[string]any)
	if drivers["weather"] != "qty" {
		t.Fatalf("custom catalog field not submitted: %v", body)
	}
}

func TestSession_PreviewValidationHasNoSideEffects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.login(t)
	h.upload(t)
	h.mapAll(t)
	if _, _, err := h.session.ValidateAndContinue(context.Background()); err != nil {
		t.Fatalf("validate and continue: %v", err)
	}
	before := h.session.Snapshot()

	events, unsubscribe := h.session.Subscribe()
	defer unsubscribe()

	res := h.session.PreviewValidation()
	if !res.IsValid || res.MappedCount != 4 || res.TotalDetected != 4 {
		t.Fatalf("preview = %+v", res)
	}
	after := h.session.Snapshot()
	if !reflect.DeepEqual(after.State, before.State) {
		t.Fatalf("preview changed state:\n got: %+v\nwant: %+v", after.State, before.State)
	}

	select {
	case ev := <-events:
		t.Fatalf("preview published %s", ev.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSession_SuggestKeepsUserChoices(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.login(t)
	h.upload(t)

	if _, err := h.session.SetMapping("product", "store_id"); err != nil {
		t.Fatalf("set mapping: %v", err)
	}
	if _, err := h.session.Suggest(); err != nil {
		t.Fatalf("suggest: %v", err)
	}
	m := h.session.Snapshot().Mapping
	if m.Get("product") != "store_id" {
		t.Fatalf("user choice overwritten: %v", m)
	}
	if m.Get("time") != "date" || m.Get("location") != "store_id" {
		t.Fatalf("suggestions not applied: %v", m)
	}
	// qty 不在 target_metric 的建议列表中
	if m.Get("target_metric") != "" {
		t.Fatalf("unexpected target metric suggestion: %v", m)
	}
}

func TestSession_CheckUpload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	if err := h.session.CheckUpload("sales.csv", 2<<20); err != nil {
		t.Fatalf("csv rejected: %v", err)
	}
	if err := h.session.CheckUpload("sales.json", 10); !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("json accepted: %v", err)
	}
	if err := h.session.CheckUpload("sales.xlsx", 200<<20); !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("oversize accepted: %v", err)
	}
	if err := h.session.CheckUpload("sales.parquet", 0); !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("empty accepted: %v", err)
	}
}
