package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/openhearth/hearth/internal/analytics"
	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/session"
	"github.com/openhearth/hearth/internal/store"
	"github.com/openhearth/hearth/internal/types"
)

func testAdmin(t *testing.T) (*Server, *store.Memory, *analytics.Recorder, *session.Manager) {
	t.Helper()
	st := store.NewMemory()
	loader := config.NewLoader(st)
	recorder := analytics.NewRecorder(analytics.NewMemorySink(64))
	sessions := session.NewManager(loader)

	admin := config.AdminConfig{Principals: []config.Principal{
		{Name: "reader", Token: "read-token", Permission: "read"},
		{Name: "ops", Token: "write-token", Permission: "write"},
	}}
	return NewServer(st, loader, recorder, sessions, admin), st, recorder, sessions
}

func request(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	s, _, _, _ := testAdmin(t)
	h := s.Routes()

	if rec := request(t, h, http.MethodGet, "/api/features", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := request(t, h, http.MethodGet, "/api/features", "bogus", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
	if rec := request(t, h, http.MethodGet, "/api/features", "read-token", nil); rec.Code != http.StatusOK {
		t.Errorf("read token: status = %d, want 200", rec.Code)
	}
	rec := request(t, h, http.MethodPut, "/api/features/redis_caching/toggle", "read-token",
		map[string]bool{"enabled": false})
	if rec.Code != http.StatusForbidden {
		t.Errorf("read token on write route: status = %d, want 403", rec.Code)
	}
}

func TestToggleFeatureAuditsAndInvalidates(t *testing.T) {
	s, st, _, _ := testAdmin(t)
	h := s.Routes()
	ctx := context.Background()

	rec := request(t, h, http.MethodPut, "/api/features/redis_caching/toggle", "write-token",
		map[string]bool{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var flag types.FeatureFlag
	if err := json.Unmarshal(rec.Body.Bytes(), &flag); err != nil {
		t.Fatal(err)
	}
	if flag.Enabled {
		t.Error("flag still enabled in response")
	}

	// The loader re-reads after invalidation.
	if s.loader.FeatureEnabled(ctx, types.FeatureRedisCaching) {
		t.Error("loader still reports redis_caching enabled")
	}

	recs, _ := st.Audit(ctx, 10)
	if len(recs) != 1 || recs[0].Actor != "ops" || recs[0].Entity != "feature:redis_caching" {
		t.Errorf("audit = %+v", recs)
	}
}

func TestToggleRequiredFlagConflicts(t *testing.T) {
	s, _, _, _ := testAdmin(t)
	h := s.Routes()

	rec := request(t, h, http.MethodPut, "/api/features/facade_handlers/toggle", "write-token",
		map[string]bool{"enabled": false})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", rec.Code, rec.Body)
	}
}

func TestSportsTeamCRUD(t *testing.T) {
	s, _, _, _ := testAdmin(t)
	h := s.Routes()

	team := types.SportsTeam{Options: []types.ClarificationOption{
		{ID: "arizona-cardinals", Label: "Arizona Cardinals"},
		{ID: "st-louis-cardinals", Label: "St. Louis Cardinals"},
	}}
	rec := request(t, h, http.MethodPut, "/api/conversation/sports-teams/cardinals", "write-token", team)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body)
	}

	rec = request(t, h, http.MethodGet, "/api/conversation/sports-teams", "read-token", nil)
	var teams []types.SportsTeam
	if err := json.Unmarshal(rec.Body.Bytes(), &teams); err != nil {
		t.Fatal(err)
	}
	if len(teams) != 1 || teams[0].Trigger != "cardinals" {
		t.Fatalf("teams = %+v", teams)
	}

	rec = request(t, h, http.MethodDelete, "/api/conversation/sports-teams/cardinals", "write-token", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	rec = request(t, h, http.MethodDelete, "/api/conversation/sports-teams/cardinals", "write-token", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestUpsertAuditCarriesPriorValue(t *testing.T) {
	s, st, _, _ := testAdmin(t)
	h := s.Routes()
	ctx := context.Background()

	team := types.SportsTeam{Options: []types.ClarificationOption{
		{ID: "arizona-cardinals", Label: "Arizona Cardinals"},
		{ID: "st-louis-cardinals", Label: "St. Louis Cardinals"},
	}}
	if rec := request(t, h, http.MethodPut, "/api/conversation/sports-teams/cardinals", "write-token", team); rec.Code != http.StatusOK {
		t.Fatalf("first put status = %d: %s", rec.Code, rec.Body)
	}

	team.Options[1].Label = "St. Louis Cardinals (MLB)"
	if rec := request(t, h, http.MethodPut, "/api/conversation/sports-teams/cardinals", "write-token", team); rec.Code != http.StatusOK {
		t.Fatalf("second put status = %d: %s", rec.Code, rec.Body)
	}

	recs, _ := st.Audit(ctx, 10)
	if len(recs) != 2 {
		t.Fatalf("audit records = %d, want 2", len(recs))
	}
	// Newest first: the second write replaced the first version.
	if !strings.Contains(recs[0].Before, `"St. Louis Cardinals"`) {
		t.Errorf("update before = %q, want the replaced row", recs[0].Before)
	}
	if !strings.Contains(recs[0].After, `"St. Louis Cardinals (MLB)"`) {
		t.Errorf("update after = %q, want the new row", recs[0].After)
	}
	if recs[1].Before != "" {
		t.Errorf("create before = %q, want empty", recs[1].Before)
	}

	if rec := request(t, h, http.MethodDelete, "/api/conversation/sports-teams/cardinals", "write-token", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	recs, _ = st.Audit(ctx, 10)
	if recs[0].After != "" || !strings.Contains(recs[0].Before, `"cardinals"`) {
		t.Errorf("delete record = %+v, want deleted row as before", recs[0])
	}
}

func TestSportsTeamNeedsTwoOptions(t *testing.T) {
	s, _, _, _ := testAdmin(t)
	h := s.Routes()

	team := types.SportsTeam{Options: []types.ClarificationOption{{ID: "only", Label: "Only"}}}
	rec := request(t, h, http.MethodPut, "/api/conversation/sports-teams/cardinals", "write-token", team)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLLMBackendLifecycle(t *testing.T) {
	s, _, _, _ := testAdmin(t)
	h := s.Routes()

	b := types.LLMBackend{
		ModelName:   "llama3",
		BackendType: types.BackendAuto,
		Endpoint:    "http://llm:11434",
		Enabled:     true,
	}
	rec := request(t, h, http.MethodPost, "/api/llm-backends/", "write-token", b)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var created types.LLMBackend
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = request(t, h, http.MethodGet, "/api/llm-backends/model/llama3", "read-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("by-model status = %d: %s", rec.Code, rec.Body)
	}

	rec = request(t, h, http.MethodGet, "/api/llm-backends/model/unknown", "read-token", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown model status = %d, want 404", rec.Code)
	}
}

func TestConversationSettingsRoundTrip(t *testing.T) {
	s, _, _, _ := testAdmin(t)
	h := s.Routes()

	settings := config.DefaultConversationSettings()
	settings.MaxMessages = 7
	rec := request(t, h, http.MethodPut, "/api/conversation/settings", "write-token", settings)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body)
	}

	rec = request(t, h, http.MethodGet, "/api/conversation/settings", "read-token", nil)
	var got types.ConversationSettings
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.MaxMessages != 7 {
		t.Errorf("max_messages = %d, want 7", got.MaxMessages)
	}
}

func TestAnalyticsQueryAndSummary(t *testing.T) {
	s, _, recorder, _ := testAdmin(t)
	h := s.Routes()

	recorder.Record(types.AnalyticsEvent{Kind: types.EventCacheHit, SessionID: "s1", Timestamp: time.Now()})
	recorder.Record(types.AnalyticsEvent{Kind: types.EventCacheMiss, SessionID: "s1", Timestamp: time.Now()})

	rec := request(t, h, http.MethodGet, "/api/conversation/analytics?kind=cache_hit", "read-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d: %s", rec.Code, rec.Body)
	}
	var events []types.AnalyticsEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != types.EventCacheHit {
		t.Errorf("events = %+v", events)
	}

	rec = request(t, h, http.MethodGet, "/api/conversation/analytics/summary", "read-token", nil)
	var summary analytics.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.Total != 2 {
		t.Errorf("summary total = %d, want 2", summary.Total)
	}
}

func TestAnalyticsStream(t *testing.T) {
	s, _, recorder, _ := testAdmin(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/conversation/analytics/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer read-token"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	recorder.Record(types.AnalyticsEvent{Kind: types.EventFallbackInvoked, SessionID: "live"})

	var ev types.AnalyticsEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != types.EventFallbackInvoked || ev.SessionID != "live" {
		t.Errorf("streamed event = %+v", ev)
	}
}

func TestSessionAdmin(t *testing.T) {
	s, _, _, sessions := testAdmin(t)
	h := s.Routes()
	ctx := context.Background()

	sess, _, _ := sessions.GetOrCreate(ctx, "")
	sessions.Append(ctx, sess.ID, types.RoleUser, "hello", "", nil)

	rec := request(t, h, http.MethodGet, "/api/sessions/", "read-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body)
	}

	rec = request(t, h, http.MethodGet, "/api/sessions/"+sess.ID+"/export?format=plaintext", "read-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Body.String(); got != "user: hello\n" {
		t.Errorf("export = %q", got)
	}

	rec = request(t, h, http.MethodGet, "/api/sessions/"+sess.ID+"/export?format=csv", "read-token", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad format status = %d, want 400", rec.Code)
	}

	rec = request(t, h, http.MethodDelete, "/api/sessions/"+sess.ID, "write-token", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = request(t, h, http.MethodGet, "/api/sessions/"+sess.ID, "read-token", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}
