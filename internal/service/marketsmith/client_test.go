package marketsmith

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PivotPull/internal/domain/models"
	"PivotPull/internal/service/ratelimit"
	"PivotPull/pkg/cache"
)

type fakeProvider struct {
	t             *testing.T
	searchCalls   int
	patternsCalls int
	lastPatterns  map[string]any
	search        string
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts.login", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			f.t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("loginID") != "jane" || r.Form.Get("password") != "pw" || r.Form.Get("ApiKey") != "key" {
			f.t.Errorf("unexpected credentials: %v", r.Form)
		}
		if r.Form.Get("include") != "profile,data," || r.Form.Get("includeUserInfo") != "true" {
			f.t.Errorf("unexpected login flags: %v", r.Form)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"errorCode": 0, "UID": "u-1"})
	})
	mux.HandleFunc("/handle-login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["action"] != "login" || body["UID"] != "u-1" {
			f.t.Errorf("unexpected handle-login body: %v", body)
		}
		http.SetCookie(w, &http.Cookie{Name: ".ASPXAUTH", Value: "session", Path: "/"})
	})
	mux.HandleFunc("/user", f.authed(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"UserID": 42, "DisplayName": "Jane"})
	}))
	mux.HandleFunc("/search", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls++
		b, _ := io.ReadAll(r.Body)
		f.search = string(b)
		var symbol string
		if err := json.Unmarshal(b, &symbol); err != nil {
			http.Error(w, "search body must be a JSON string", http.StatusBadRequest)
			return
		}
		content := []map[string]any{
			instrumentJSON("AAPL", 1),
			instrumentJSON("AAPLX", 2),
		}
		switch symbol {
		case "DUP":
			content = []map[string]any{instrumentJSON("DUP", 3), instrumentJSON("DUP", 4)}
		case `BRK"A`, `BRK\A`:
			content = []map[string]any{instrumentJSON(symbol, 5)}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"content": content})
	}))
	mux.HandleFunc("/patterns", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.patternsCalls++
		_ = json.NewDecoder(r.Body).Decode(&f.lastPatterns)
		_ = json.NewEncoder(w).Encode(map[string]any{"cupWithHandles": []any{}})
	}))
	return mux
}

func (f *fakeProvider) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(".ASPXAUTH"); err != nil || c.Value != "session" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func instrumentJSON(symbol string, id int) map[string]any {
	return map[string]any{
		"mSID":                id,
		"type":                1,
		"instrumentID":        id * 10,
		"symbol":              symbol,
		"name":                symbol + " Inc",
		"earliestTradingDate": "/Date(345600000000-0700)/",
		"latestTradingDate":   "/Date(1536303600000-0700)/",
		"isActive":            true,
	}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeProvider) {
	t.Helper()
	f := &fakeProvider{t: t}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c := New(Endpoints{
		LoginURL:             srv.URL + "/accounts.login",
		HandleLoginURL:       srv.URL + "/handle-login",
		UserInfoURL:          srv.URL + "/user",
		SearchInstrumentsURL: srv.URL + "/search",
		PatternsURL:          srv.URL + "/patterns",
	}, Credentials{Username: "jane", Password: "pw", APIKey: "key"}, opts...)
	return c, f
}

func TestLoginKeepsSessionCookies(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := c.GetUser(ctx); err == nil {
		t.Fatalf("expected unauthorized before login")
	}
	if err := c.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	u, err := c.GetUser(ctx)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.UserID != 42 || u.DisplayName != "Jane" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestGetInstrumentExactMatch(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}

	inst, err := c.GetInstrument(ctx, "AAPL")
	if err != nil {
		t.Fatalf("get instrument: %v", err)
	}
	if f.search != `"AAPL"` {
		t.Fatalf("search body should be a quoted symbol, got %s", f.search)
	}
	if inst.InstrumentID != 10 || inst.Symbol != "AAPL" {
		t.Fatalf("unexpected instrument %+v", inst)
	}
	if inst.LatestTradingDate.IsZero() {
		t.Fatalf("trading dates should be decoded")
	}

	if _, err := c.GetInstrument(ctx, "MSFT"); !errors.Is(err, models.ErrInstrumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.GetInstrument(ctx, "DUP"); !errors.Is(err, models.ErrInstrumentAmbiguous) {
		t.Fatalf("expected ambiguous, got %v", err)
	}
}

func TestGetInstrumentEscapesSymbol(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}

	for _, symbol := range []string{`BRK"A`, `BRK\A`} {
		inst, err := c.GetInstrument(ctx, symbol)
		if err != nil {
			t.Fatalf("%s: get instrument: %v", symbol, err)
		}
		if inst.Symbol != symbol || inst.InstrumentID != 50 {
			t.Fatalf("%s: unexpected instrument %+v", symbol, inst)
		}
	}
}

func TestGetPatternsPayloadAndCache(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	c, f := newTestClient(t, WithCache(mem, time.Minute), WithRateLimit(ratelimit.New(), 100, 100))
	ctx := context.Background()
	if err := c.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}

	inst := &models.Instrument{Symbol: "AAPL", InstrumentID: 10, Type: 1}
	user := &models.User{UserID: 42}
	for i := 0; i < 2; i++ {
		payload, err := c.GetPatterns(ctx, inst, user, 1420070400000, 1451606400000)
		if err != nil {
			t.Fatalf("get patterns: %v", err)
		}
		if _, ok := payload["cupWithHandles"]; !ok {
			t.Fatalf("payload missing cupWithHandles: %v", payload)
		}
	}
	if f.patternsCalls != 1 {
		t.Fatalf("expected cached second call, got %d requests", f.patternsCalls)
	}

	p := f.lastPatterns
	if p["userID"] != float64(42) || p["symbol"] != "AAPL" || p["instrumentID"] != float64(10) || p["instrumentType"] != float64(1) {
		t.Fatalf("unexpected payload %v", p)
	}
	di, _ := p["dateInfo"].(map[string]any)
	if di["startDate"] != "/Date(1420070400000)/" || di["endDate"] != "/Date(1451606400000)/" {
		t.Fatalf("unexpected dateInfo %v", di)
	}
	if di["frequency"] != float64(1) || di["tickCount"] != float64(0) {
		t.Fatalf("unexpected frequency/tickCount %v", di)
	}
}

func TestLoginRejectsProviderErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"errorCode": 403042, "errorMessage": "Invalid LoginID"})
	}))
	defer srv.Close()

	c := New(Endpoints{LoginURL: srv.URL, HandleLoginURL: srv.URL}, Credentials{})
	if err := c.Login(context.Background()); err == nil {
		t.Fatalf("expected login error")
	}
}
