package core

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/nexuschat/nexus-server/internal/proto"
	"github.com/nexuschat/nexus-server/internal/store"
)

const (
	minUsernameLen = 2
	maxBioLen      = 200

	// bcryptCost 10 balances login latency against brute-force cost.
	bcryptCost = 10
)

// AccountRegistry creates and verifies user accounts.
type AccountRegistry struct {
	st *state
}

// NormalizeUsername trims and lowercases a username. All account, session,
// and DM lookups go through normalized names.
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register creates an account. The username is normalized and must be at
// least two characters; registration persists before it is acknowledged.
func (r *AccountRegistry) Register(username, password string) (string, error) {
	username = NormalizeUsername(username)
	if len(username) < minUsernameLen {
		return "", domainError(ErrCodeInvalidUsername, "Username must be ≥ 2 characters.")
	}

	// Hash before taking the lock; bcrypt is deliberately slow.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	r.st.mu.Lock()
	if _, exists := r.st.doc.Users[username]; exists {
		r.st.mu.Unlock()
		return "", domainError(ErrCodeUserExists, "Username already taken.")
	}
	r.st.doc.Users[username] = &store.User{
		Password: string(hash),
		Joined:   r.st.now().Format(proto.TimeFull),
	}
	data, seq, err := r.st.snapshotLocked()
	r.st.mu.Unlock()

	if err != nil {
		return "", err
	}
	if err := r.st.flush(data, seq); err != nil {
		return "", err
	}
	return username, nil
}

// Verify checks credentials and returns the normalized username. Unknown
// users and wrong passwords are distinct failures; both close the
// connection at the transport layer.
func (r *AccountRegistry) Verify(username, password string) (string, error) {
	username = NormalizeUsername(username)
	if len(username) < minUsernameLen {
		return "", domainError(ErrCodeInvalidUsername, "Username must be ≥ 2 characters.")
	}

	r.st.mu.Lock()
	user, exists := r.st.doc.Users[username]
	r.st.mu.Unlock()

	if !exists {
		return "", domainError(ErrCodeUserNotFound, "User not found.")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return "", domainError(ErrCodeBadCredential, "Wrong password.")
	}
	return username, nil
}

// SetBio updates a user's bio, truncated to 200 characters, and persists.
func (r *AccountRegistry) SetBio(username, bio string) error {
	if runes := []rune(bio); len(runes) > maxBioLen {
		bio = string(runes[:maxBioLen])
	}

	r.st.mu.Lock()
	user, exists := r.st.doc.Users[username]
	if !exists {
		r.st.mu.Unlock()
		return domainError(ErrCodeUserNotFound, "User not found.")
	}
	user.Bio = bio
	data, seq, err := r.st.snapshotLocked()
	r.st.mu.Unlock()

	if err != nil {
		return err
	}
	return r.st.flush(data, seq)
}
