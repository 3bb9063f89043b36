package sim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string, attempts int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:        baseURL,
		Username:       "svc",
		Password:       "secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestLookupUserParsesNestedDaten(t *testing.T) {
	var gotPath, gotAccept string
	var gotBasicAuth bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		_, _, gotBasicAuth = r.BasicAuth()
		w.Write([]byte(`{
			"status": "active",
			"projekt": "pr12ab",
			"daten": {
				"vorname": "Ada",
				"nachname": "Lovelace",
				"geschlecht": "w",
				"emailadressen": [
					{"adresse": "ada.lovelace@example.org"},
					{"adresse": "al@other.example"}
				]
			}
		}`))
	}))
	defer srv.Close()

	rec, err := newTestClient(t, srv.URL, 1).LookupUser(context.Background(), "di12xyz")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	if gotPath != "/user/di12xyz" {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if gotAccept != "application/json" {
		t.Fatalf("unexpected accept header %q", gotAccept)
	}
	if !gotBasicAuth {
		t.Fatal("expected basic auth credentials on request")
	}

	if rec.Project != "pr12ab" || rec.Status != "active" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.FirstName != "Ada" || rec.LastName != "Lovelace" || rec.Gender != "w" {
		t.Fatalf("unexpected identity fields: %+v", rec)
	}
	if rec.Email != "ada.lovelace@example.org" {
		t.Fatalf("expected name-matching address to win, got %q", rec.Email)
	}
}

func TestLookupUserTopLevelFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"projekt": "pr99zz",
			"vorname": "Kurt",
			"nachname": "Weill",
			"emailadressen": ["kw@example.org", "kw@example.org"]
		}`))
	}))
	defer srv.Close()

	rec, err := newTestClient(t, srv.URL, 1).LookupUser(context.Background(), "kw")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec.FirstName != "Kurt" || rec.Project != "pr99zz" {
		t.Fatalf("top-level fields not parsed: %+v", rec)
	}
	// Bare-string entries and duplicates are both tolerated.
	if rec.Email != "kw@example.org" {
		t.Fatalf("unexpected email %q", rec.Email)
	}
}

func TestLookupUserSelectsFirstWithoutNameMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"projekt": "pr00aa",
			"daten": {
				"vorname": "Ada",
				"nachname": "Lovelace",
				"emailadressen": [{"adresse": "first@example.org"}, {"adresse": "second@example.org"}]
			}
		}`))
	}))
	defer srv.Close()

	rec, err := newTestClient(t, srv.URL, 1).LookupUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec.Email != "first@example.org" {
		t.Fatalf("expected first address fallback, got %q", rec.Email)
	}
}

func TestLookupUserNotFoundIsNotRetried(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 3).LookupUser(context.Background(), "nobody")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if attempts != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", attempts)
	}
}

func TestLookupUserRetriesServerErrors(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"projekt": "pr12ab", "daten": {"vorname": "Ada"}}`))
	}))
	defer srv.Close()

	rec, err := newTestClient(t, srv.URL, 3).LookupUser(context.Background(), "di12xyz")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 3 || rec.Project != "pr12ab" {
		t.Fatalf("unexpected attempts=%d record=%+v", attempts, rec)
	}
}

func TestLookupUserMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL, 3).LookupUser(context.Background(), "u1"); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestNetrcCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netrc")
	content := strings.Join([]string{
		"machine other.example login bob password hunter2",
		"machine simapi.sim.lrz.de",
		"  login svcacct",
		"  password s3cret",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write netrc: %v", err)
	}

	login, password, err := netrcCredentials(path, "simapi.sim.lrz.de")
	if err != nil {
		t.Fatalf("netrc: %v", err)
	}
	if login != "svcacct" || password != "s3cret" {
		t.Fatalf("unexpected credentials %q/%q", login, password)
	}

	if _, _, err := netrcCredentials(path, "unknown.example"); err == nil {
		t.Fatal("expected error for unknown host")
	}
}
