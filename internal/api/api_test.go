package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/wormnet-project/wormnet/internal/config"
	"github.com/wormnet-project/wormnet/internal/db"
	"github.com/wormnet-project/wormnet/internal/server"
	"github.com/wormnet-project/wormnet/internal/version"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type discard struct{}

func (discard) WriteTo(p []byte, _ net.Addr) (int, error) { return len(p), nil }

type fakeSessions struct {
	sessions []db.Session
	limit    int
}

func (f *fakeSessions) ListSessions(_ context.Context, limit int) ([]db.Session, error) {
	f.limit = limit
	return f.sessions, nil
}

func (f *fakeSessions) ListMutes(context.Context) ([]db.Mute, error) {
	return []db.Mute{{Address: "10.0.0.9"}}, nil
}

// startGame runs a server holding one negotiated client in slot 0.
func startGame(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.TickInterval = time.Hour
	s := server.New(cfg, discard{}, nil)

	c, err := s.Accept(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 23400})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Negotiate(c, version.Beta9); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SpawnWorm(c, "Alpha"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func newTestAPI(t *testing.T, mutate func(*config.Config)) (*Server, *fakeSessions) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	sessions := &fakeSessions{}
	return NewServer(cfg, startGame(t), sessions), sessions
}

func do(t *testing.T, s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("cannot decode %q: %v", w.Body.String(), err)
	}
}

func TestPing(t *testing.T) {
	s, _ := newTestAPI(t, nil)
	w := do(t, s, http.MethodGet, "/api/public/ping", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestServerInfo(t *testing.T) {
	s, _ := newTestAPI(t, nil)
	w := do(t, s, http.MethodGet, "/api/public/info", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got struct {
		Name        string `json:"server_name"`
		Connections int    `json:"connections"`
		Worms       int    `json:"worms"`
	}
	decode(t, w, &got)
	if got.Name != "wormnet" || got.Connections != 1 || got.Worms != 1 {
		t.Errorf("info = %+v", got)
	}
}

func TestAuth(t *testing.T) {
	s, _ := newTestAPI(t, func(cfg *config.Config) {
		app := cfg.GetApplicationData()
		app.Security.AuthDisabled = false
		app.Security.APIToken = "s3cret"
		cfg.SetApplicationData(app)
	})

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, s, http.MethodGet, "/api/connections", "", tt.token); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestListAndGetConnection(t *testing.T) {
	s, _ := newTestAPI(t, nil)

	w := do(t, s, http.MethodGet, "/api/connections", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var list struct {
		Count       int                     `json:"count"`
		Connections []server.ConnectionInfo `json:"connections"`
	}
	decode(t, w, &list)
	if list.Count != 1 || list.Connections[0].Address != "10.0.0.2:23400" {
		t.Fatalf("connections = %+v", list)
	}
	if diff := cmp.Diff([]server.WormInfo{{ID: 0, Name: "Alpha"}}, list.Connections[0].Worms); diff != "" {
		t.Errorf("worms mismatch (-want +got):\n%s", diff)
	}

	w = do(t, s, http.MethodGet, "/api/connections/0", "", "")
	var one server.ConnectionInfo
	decode(t, w, &one)
	if one.State != "connected" || one.Version != version.Beta9.String() {
		t.Errorf("connection = %+v", one)
	}

	if w := do(t, s, http.MethodGet, "/api/connections/5", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("idle slot status = %d, want 404", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/connections/x", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad slot status = %d, want 400", w.Code)
	}
}

func TestMuteAndKick(t *testing.T) {
	s, _ := newTestAPI(t, nil)

	if w := do(t, s, http.MethodPost, "/api/connections/0/mute", "", ""); w.Code != http.StatusOK {
		t.Fatalf("mute status = %d: %s", w.Code, w.Body)
	}
	var one server.ConnectionInfo
	decode(t, do(t, s, http.MethodGet, "/api/connections/0", "", ""), &one)
	if !one.Muted {
		t.Error("connection not muted")
	}

	if w := do(t, s, http.MethodPost, "/api/connections/0/unmute", "", ""); w.Code != http.StatusOK {
		t.Fatalf("unmute status = %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/connections/0/kick", "", ""); w.Code != http.StatusOK {
		t.Fatalf("kick status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/connections/0", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("kicked slot status = %d, want 404", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/connections/0/kick", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("second kick status = %d, want 404", w.Code)
	}
}

func TestSessionsAndMutes(t *testing.T) {
	s, sessions := newTestAPI(t, nil)
	sessions.sessions = []db.Session{{ID: "abc", Address: "10.0.0.2:23400"}}

	w := do(t, s, http.MethodGet, "/api/sessions?limit=10", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if sessions.limit != 10 {
		t.Errorf("limit = %d, want 10", sessions.limit)
	}
	if w := do(t, s, http.MethodGet, "/api/sessions?limit=0", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", w.Code)
	}

	w = do(t, s, http.MethodGet, "/api/mutes", "", "")
	var mutes struct {
		Mutes []db.Mute `json:"mutes"`
	}
	decode(t, w, &mutes)
	if len(mutes.Mutes) != 1 || mutes.Mutes[0].Address != "10.0.0.9" {
		t.Errorf("mutes = %+v", mutes)
	}
}

func TestConfig_RedactsTokenAndValidates(t *testing.T) {
	s, _ := newTestAPI(t, func(cfg *config.Config) {
		app := cfg.GetApplicationData()
		app.Security.APIToken = "s3cret"
		cfg.SetApplicationData(app)
	})

	w := do(t, s, http.MethodGet, "/api/config", "", "")
	if strings.Contains(w.Body.String(), "s3cret") {
		t.Fatalf("config leaks the token: %s", w.Body)
	}
	var got struct {
		App config.ApplicationData `json:"application_data"`
	}
	decode(t, w, &got)

	got.App.Logging.Level = "debug"
	body, _ := json.Marshal(got.App)
	if w := do(t, s, http.MethodPost, "/api/config/app_data", string(body), ""); w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body)
	}
	app := s.cfg.GetApplicationData()
	if app.Logging.Level != "debug" || app.Security.APIToken != "s3cret" {
		t.Errorf("saved application data = %+v", app)
	}

	got.App.MQTT.Enabled = true
	got.App.MQTT.BrokerURL = ""
	body, _ = json.Marshal(got.App)
	if w := do(t, s, http.MethodPost, "/api/config/app_data", string(body), ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid update status = %d, want 400", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := range 2 {
		if !rl.Allow("a") {
			t.Fatalf("request %d refused inside the burst", i)
		}
	}
	if rl.Allow("a") {
		t.Fatal("request allowed past the burst")
	}
	if !rl.Allow("b") {
		t.Error("other client limited")
	}
	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Error("bucket did not refill")
	}
}

func TestNotFound(t *testing.T) {
	s, _ := newTestAPI(t, nil)
	if w := do(t, s, http.MethodGet, "/api/nothing", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"Bearerabc":  "",
	}
	for in, want := range tests {
		if got := extractBearerToken(in); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
