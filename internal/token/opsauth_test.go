package token

import (
	"testing"
	"time"
)

func TestOpsAuthenticator_IssueAndVerify(t *testing.T) {
	auth := NewOpsAuthenticator([]byte("ops-secret"), "podx-oracle")

	tok, err := auth.Issue("operator-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	subject, err := auth.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "operator-1" {
		t.Fatalf("expected subject operator-1, got %q", subject)
	}
}

func TestOpsAuthenticator_RejectsExpired(t *testing.T) {
	auth := NewOpsAuthenticator([]byte("ops-secret"), "podx-oracle")
	tok, err := auth.Issue("operator-1", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := auth.Verify(tok); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestOpsAuthenticator_RejectsWrongIssuer(t *testing.T) {
	issuerA := NewOpsAuthenticator([]byte("ops-secret"), "podx-oracle")
	issuerB := NewOpsAuthenticator([]byte("ops-secret"), "someone-else")

	tok, err := issuerA.Issue("operator-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuerB.Verify(tok); err == nil {
		t.Fatal("expected mismatched issuer to fail verification")
	}
}
