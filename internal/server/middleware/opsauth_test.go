package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/podx/oracle/internal/token"
)

func TestOpsAuth_AllowsValidBearerToken(t *testing.T) {
	auth := token.NewOpsAuthenticator([]byte("ops-secret"), "podx-oracle")
	tok, err := auth.Issue("operator-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = OpsSubject(r)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/ops/reconcile/ship-1/pickup", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()

	OpsAuth(auth)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotSubject != "operator-1" {
		t.Fatalf("expected subject operator-1, got %q", gotSubject)
	}
}

func TestOpsAuth_RejectsMissingHeader(t *testing.T) {
	auth := token.NewOpsAuthenticator([]byte("ops-secret"), "podx-oracle")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	req := httptest.NewRequest(http.MethodPost, "/ops/reconcile/ship-1/pickup", nil)
	rec := httptest.NewRecorder()

	OpsAuth(auth)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOpsAuth_RejectsMalformedScheme(t *testing.T) {
	auth := token.NewOpsAuthenticator([]byte("ops-secret"), "podx-oracle")
	tok, _ := auth.Issue("operator-1", time.Hour)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	req := httptest.NewRequest(http.MethodPost, "/ops/reconcile/ship-1/pickup", nil)
	req.Header.Set("Authorization", "Basic "+tok)
	rec := httptest.NewRecorder()

	OpsAuth(auth)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOpsAuth_RejectsInvalidToken(t *testing.T) {
	auth := token.NewOpsAuthenticator([]byte("ops-secret"), "podx-oracle")
	other := token.NewOpsAuthenticator([]byte("different-secret"), "podx-oracle")
	tok, _ := other.Issue("operator-1", time.Hour)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	req := httptest.NewRequest(http.MethodPost, "/ops/reconcile/ship-1/pickup", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()

	OpsAuth(auth)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestOpsSubject_EmptyWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := OpsSubject(req); got != "" {
		t.Fatalf("expected empty subject, got %q", got)
	}
}
