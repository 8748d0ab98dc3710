package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newVerifyStore(t *testing.T) *VerifyCodeStore {
	t.Helper()
	srv := miniredis.RunT(t)
	s, err := NewVerifyCodeStore(srv.Addr(), "")
	if err != nil {
		t.Fatalf("new verify store: %v", err)
	}
	return s
}

func TestVerifyCodeRoundTrip(t *testing.T) {
	s := newVerifyStore(t)
	ctx := context.Background()

	challengeID, code, err := s.Issue(ctx, "b-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code length = %d, want 6", len(code))
	}
	if err := s.Verify(ctx, challengeID, "b-1", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// Challenge is single use.
	if err := s.Verify(ctx, challengeID, "b-1", code); !errors.Is(err, ErrVerifyChallengeBad) {
		t.Fatalf("expected consumed challenge, got %v", err)
	}
}

func TestVerifyCodeWrongBuild(t *testing.T) {
	s := newVerifyStore(t)
	ctx := context.Background()
	challengeID, code, err := s.Issue(ctx, "b-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Verify(ctx, challengeID, "b-2", code); !errors.Is(err, ErrVerifyChallengeBad) {
		t.Fatalf("expected challenge mismatch, got %v", err)
	}
}

func TestVerifyCodeAttemptsBounded(t *testing.T) {
	s := newVerifyStore(t)
	ctx := context.Background()
	challengeID, code, err := s.Issue(ctx, "b-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for i := 0; i < s.maxAttempts; i++ {
		if err := s.Verify(ctx, challengeID, "b-1", "000000"); !errors.Is(err, ErrVerifyCodeInvalid) {
			t.Fatalf("attempt %d: expected invalid code, got %v", i, err)
		}
	}
	// Exhausted challenges are deleted; even the right code fails now.
	if err := s.Verify(ctx, challengeID, "b-1", code); !errors.Is(err, ErrVerifyChallengeBad) {
		t.Fatalf("expected exhausted challenge, got %v", err)
	}
}

func TestIssueRateLimited(t *testing.T) {
	s := newVerifyStore(t)
	ctx := context.Background()
	if _, _, err := s.Issue(ctx, "b-1"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := s.Issue(ctx, "b-1"); !errors.Is(err, ErrVerifyRateLimited) {
		t.Fatalf("expected resend rate limit, got %v", err)
	}
}
