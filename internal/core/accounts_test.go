package core

import (
	"strings"
	"testing"
)

func TestRegisterNormalizesAndPersists(t *testing.T) {
	c, p := newTestCore(t)

	username, err := c.Accounts.Register("  Alice ", "pw1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if username != "alice" {
		t.Fatalf("expected normalized username alice, got %q", username)
	}
	if p.writeCount() != 1 {
		t.Fatalf("expected 1 persistence write, got %d", p.writeCount())
	}

	// Collides with the normalized form.
	if _, err := c.Accounts.Register("ALICE", "other"); Code(err) != ErrCodeUserExists {
		t.Fatalf("expected user_exists, got %v", err)
	}
}

func TestRegisterRejectsShortUsername(t *testing.T) {
	c, _ := newTestCore(t)

	for _, name := range []string{"", "a", " x "} {
		if _, err := c.Accounts.Register(name, "pw"); Code(err) != ErrCodeInvalidUsername {
			t.Fatalf("register %q: expected invalid_username, got %v", name, err)
		}
	}
}

func TestVerifyMatchesExactPasswordOnly(t *testing.T) {
	c, _ := newTestCore(t)

	if _, err := c.Accounts.Register("alice", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := c.Accounts.Verify("Alice", "pw1"); err != nil {
		t.Fatalf("verify with normalization: %v", err)
	}
	if _, err := c.Accounts.Verify("alice", "wrong"); Code(err) != ErrCodeBadCredential {
		t.Fatalf("expected bad_credential, got %v", err)
	}
	if _, err := c.Accounts.Verify("alice", "pw1 "); Code(err) != ErrCodeBadCredential {
		t.Fatalf("passwords must match exactly, got %v", err)
	}
	if _, err := c.Accounts.Verify("nobody", "pw1"); Code(err) != ErrCodeUserNotFound {
		t.Fatalf("expected user_not_found, got %v", err)
	}
}

func TestSetBioTruncatesAndPersists(t *testing.T) {
	c, p := newTestCore(t)

	if _, err := c.Accounts.Register("alice", "pw1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := p.writeCount()

	if err := c.Accounts.SetBio("alice", strings.Repeat("x", 300)); err != nil {
		t.Fatalf("set bio: %v", err)
	}
	if p.writeCount() != before+1 {
		t.Fatalf("expected a persistence write after bio update")
	}

	event, err := c.Router.Whois("alice")
	if err != nil {
		t.Fatalf("whois: %v", err)
	}
	if len(event.Bio) != 200 {
		t.Fatalf("expected bio truncated to 200 chars, got %d", len(event.Bio))
	}

	if err := c.Accounts.SetBio("ghost", "hi"); Code(err) != ErrCodeUserNotFound {
		t.Fatalf("expected user_not_found, got %v", err)
	}
}
