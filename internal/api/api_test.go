package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"dinner-roulette/internal/auth"
	"dinner-roulette/internal/database"
	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/party"
	"dinner-roulette/internal/preference"
	"dinner-roulette/internal/realtime"
)

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *APIError       `json:"error"`
}

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dishes := dish.NewRepository(db.SQL)
	err = dishes.ReplaceAll(ctx, []dish.Dish{
		{ID: "curry", Name: "Chickpea Curry", Category: dish.CategoryMain, Tags: []string{"vegan"}, Allergens: []string{}, CostBand: 1, TimeBand: 2},
		{ID: "burger", Name: "Burger", Category: dish.CategoryMain, Tags: []string{}, Allergens: []string{"gluten"}, CostBand: 2, TimeBand: 1},
		{ID: "rice", Name: "Rice", Category: dish.CategorySide, Tags: []string{"vegan"}, Allergens: []string{}, CostBand: 1, TimeBand: 1},
	})
	if err != nil {
		t.Fatalf("Failed to seed dishes: %v", err)
	}

	hub := realtime.NewHub()
	go hub.Run(ctx)

	svc := party.NewService(party.NewRepository(db.SQL), dishes, hub, nil, 2*time.Second)
	srv := NewServer(svc, dishes, auth.NewIssuer("test-secret", time.Hour), hub)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, t: t}
}

func (ts *testServer) do(method, path, token string, body any) (int, envelope) {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		ts.t.Fatalf("Failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			ts.t.Fatalf("Failed to decode response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("Failed to decode data %s: %v", env.Data, err)
	}
	return v
}

func (ts *testServer) create(nickname string) membershipResponse {
	ts.t.Helper()
	status, env := ts.do(http.MethodPost, "/parties", "", map[string]string{"nickname": nickname})
	if status != http.StatusCreated {
		ts.t.Fatalf("Expected 201, got %d (%+v)", status, env.Error)
	}
	return decodeData[membershipResponse](ts.t, env)
}

func (ts *testServer) join(code, nickname string) membershipResponse {
	ts.t.Helper()
	status, env := ts.do(http.MethodPost, "/parties/"+code+"/join", "", map[string]string{"nickname": nickname})
	if status != http.StatusOK {
		ts.t.Fatalf("Expected 200, got %d (%+v)", status, env.Error)
	}
	return decodeData[membershipResponse](ts.t, env)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, env := ts.do(http.MethodGet, "/health", "", nil)
	if status != http.StatusOK || env.Status != "success" {
		t.Errorf("Expected healthy response, got %d %+v", status, env)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("Expected prometheus output, got %d", resp.StatusCode)
	}
}

func TestListDishes(t *testing.T) {
	ts := newTestServer(t)

	_, env := ts.do(http.MethodGet, "/dishes", "", nil)
	if all := decodeData[[]dish.Dish](t, env); len(all) != 3 {
		t.Errorf("Expected 3 dishes, got %d", len(all))
	}

	_, env = ts.do(http.MethodGet, "/dishes?category=side", "", nil)
	sides := decodeData[[]dish.Dish](t, env)
	if len(sides) != 1 || sides[0].ID != "rice" {
		t.Errorf("Expected only rice, got %+v", sides)
	}

	status, env := ts.do(http.MethodGet, "/dishes?category=soup", "", nil)
	if status != http.StatusBadRequest || env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected 400 VALIDATION_ERROR, got %d %+v", status, env.Error)
	}
}

func TestPartyFlow(t *testing.T) {
	ts := newTestServer(t)

	host := ts.create("Ana")
	if host.Token == "" || host.Party.Code == "" {
		t.Fatalf("Expected token and code, got %+v", host)
	}
	guest := ts.join(host.Party.Code, "Ben")
	code := host.Party.Code

	status, env := ts.do(http.MethodPut, "/parties/"+code+"/preferences", guest.Token, preference.MemberPreference{
		Diet:      preference.DietVegan,
		Allergens: []string{"gluten"},
	})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%+v)", status, env.Error)
	}
	result := decodeData[preference.Result](t, env)
	if len(result.Merged.Diet) != 1 || result.Merged.Diet[0] != preference.DietVegan {
		t.Errorf("Expected vegan merge, got %+v", result.Merged)
	}

	_, env = ts.do(http.MethodGet, "/parties/"+code+"/constraints", "", nil)
	if got := decodeData[preference.Result](t, env); len(got.Merged.Allergens) != 1 {
		t.Errorf("Expected one allergen, got %+v", got.Merged)
	}

	status, env = ts.do(http.MethodPost, "/parties/"+code+"/spin", host.Token, party.SpinRequest{})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%+v)", status, env.Error)
	}
	rec := decodeData[party.SpinRecord](t, env)
	if rec.Counter != 1 || rec.Results[0].Dish.ID != "curry" || rec.Results[1].Dish.ID != "rice" {
		t.Errorf("Unexpected spin record %+v", rec)
	}
	if !rec.Results[2].Placeholder {
		t.Errorf("Expected placeholder drink, got %+v", rec.Results[2])
	}

	_, env = ts.do(http.MethodGet, "/parties/"+code+"/spins?limit=5", "", nil)
	if history := decodeData[[]party.SpinRecord](t, env); len(history) != 1 || history[0].ID != rec.ID {
		t.Errorf("Expected history with the spin, got %+v", history)
	}

	status, env = ts.do(http.MethodPost, "/parties/"+code+"/chat", guest.Token, map[string]string{"text": "curry again"})
	if status != http.StatusAccepted {
		t.Errorf("Expected 202, got %d (%+v)", status, env.Error)
	}

	status, env = ts.do(http.MethodPost, "/parties/"+code+"/close", guest.Token, nil)
	if status != http.StatusForbidden {
		t.Errorf("Expected 403 for guest close, got %d", status)
	}

	status, _ = ts.do(http.MethodDelete, "/parties/"+code+"/members/me", guest.Token, nil)
	if status != http.StatusNoContent {
		t.Errorf("Expected 204 on leave, got %d", status)
	}

	status, env = ts.do(http.MethodPost, "/parties/"+code+"/close", host.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 on close, got %d (%+v)", status, env.Error)
	}
	if p := decodeData[party.Party](t, env); p.Status != party.StatusClosed {
		t.Errorf("Expected CLOSED, got %s", p.Status)
	}

	status, env = ts.do(http.MethodPost, "/parties/"+code+"/join", "", map[string]string{"nickname": "Cy"})
	if status != http.StatusConflict || env.Error.Code != "PARTY_CLOSED" {
		t.Errorf("Expected 409 PARTY_CLOSED, got %d %+v", status, env.Error)
	}
}

func TestAuthErrors(t *testing.T) {
	ts := newTestServer(t)
	a := ts.create("Ana")
	b := ts.create("Bo")

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"MissingToken", "/parties/" + a.Party.Code + "/spin", "", http.StatusUnauthorized},
		{"Garbage", "/parties/" + a.Party.Code + "/spin", "not-a-jwt", http.StatusUnauthorized},
		{"OtherRoom", "/parties/" + a.Party.Code + "/spin", b.Token, http.StatusUnauthorized},
		{"Valid", "/parties/" + a.Party.Code + "/spin", a.Token, http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, env := ts.do(http.MethodPost, tc.path, tc.token, nil)
			if status != tc.status {
				t.Errorf("Expected %d, got %d (%+v)", tc.status, status, env.Error)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	host := ts.create("Ana")
	code := host.Party.Code

	t.Run("BlankNickname", func(t *testing.T) {
		status, env := ts.do(http.MethodPost, "/parties", "", map[string]string{"nickname": " "})
		if status != http.StatusBadRequest || env.Error.Code != "VALIDATION_ERROR" {
			t.Errorf("Expected 400, got %d %+v", status, env.Error)
		}
	})

	t.Run("BandOutOfRange", func(t *testing.T) {
		status, env := ts.do(http.MethodPut, "/parties/"+code+"/preferences", host.Token, map[string]any{"budget_band": 5})
		if status != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", status)
		}
		if len(env.Error.Fields) != 1 || env.Error.Fields[0].Field != "budget_band" {
			t.Errorf("Expected budget_band field error, got %+v", env.Error.Fields)
		}
	})

	t.Run("BadJSON", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/spin", strings.NewReader("{nope"))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("EmptyChat", func(t *testing.T) {
		status, _ := ts.do(http.MethodPost, "/parties/"+code+"/chat", host.Token, map[string]string{"text": ""})
		if status != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", status)
		}
	})

	t.Run("BadLimit", func(t *testing.T) {
		status, _ := ts.do(http.MethodGet, "/parties/"+code+"/spins?limit=-2", "", nil)
		if status != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", status)
		}
	})

	t.Run("UnknownParty", func(t *testing.T) {
		status, env := ts.do(http.MethodGet, "/parties/ZZZZZZ/constraints", "", nil)
		if status != http.StatusNotFound || env.Error.Code != "PARTY_NOT_FOUND" {
			t.Errorf("Expected 404, got %d %+v", status, env.Error)
		}
	})
}

func TestSoloSpin(t *testing.T) {
	ts := newTestServer(t)

	body := party.SoloSpinRequest{
		Preference: preference.MemberPreference{Allergens: []string{"gluten"}},
		Seed:       "lunch",
	}
	status, env := ts.do(http.MethodPost, "/spin", "", body)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%+v)", status, env.Error)
	}
	first := decodeData[party.SpinRecord](t, env)
	if first.Seed != "lunch" || first.Results[0].Dish.ID != "curry" {
		t.Errorf("Unexpected solo record %+v", first)
	}

	_, env = ts.do(http.MethodPost, "/spin", "", body)
	second := decodeData[party.SpinRecord](t, env)
	for i := range first.Results {
		if first.Results[i].Dish.ID != second.Results[i].Dish.ID {
			t.Errorf("Reel %d differs across replays", i)
		}
	}
}

func TestWebsocketReceivesEvents(t *testing.T) {
	ts := newTestServer(t)
	host := ts.create("Ana")
	code := host.Party.Code

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/parties/" + code + "/ws?token=" + host.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// registration is asynchronous; keep chatting until the first event lands
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	got := make(chan realtime.Event, 1)
	go func() {
		var ev struct {
			Type string `json:"type"`
			Room string `json:"room"`
		}
		if err := conn.ReadJSON(&ev); err == nil {
			got <- realtime.Event{Type: ev.Type, Room: ev.Room}
		}
	}()

	for time.Now().Before(deadline) {
		ts.do(http.MethodPost, "/parties/"+code+"/chat", host.Token, map[string]string{"text": "hello"})
		select {
		case ev := <-got:
			if ev.Type != realtime.EventChat || ev.Room != code {
				t.Errorf("Expected chat event in %s, got %+v", code, ev)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("Timed out waiting for websocket event")
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	ts := newTestServer(t)
	host := ts.create("Ana")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/parties/" + host.Party.Code + "/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 handshake response, got %v", resp)
	}
}

func TestWebsocketRejectsFormerMember(t *testing.T) {
	ts := newTestServer(t)
	host := ts.create("Ana")
	guest := ts.join(host.Party.Code, "Ben")

	status, _ := ts.do(http.MethodDelete, "/parties/"+host.Party.Code+"/members/me", guest.Token, nil)
	if status != http.StatusNoContent {
		t.Fatalf("Expected 204 on leave, got %d", status)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/parties/" + host.Party.Code + "/ws?token=" + guest.Token
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Expected dial to fail for a member who left")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 handshake response, got %v", resp)
	}
}
