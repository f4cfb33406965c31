// Package identity holds the client-side session context: the stored access
// credential, the cached profile, and the forced-logout hook. It replaces
// ambient global state with an explicitly injected object; the chat core
// reads from it and clears it on forced reauthentication, nothing else
// writes to it behind the caller's back.
package identity

import (
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Profile is the cached identity of the logged-in user.
type Profile struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Claims mirrors the token claims minted by the user service.
type Claims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Context is the session-context object injected into the chat core.
// All methods are safe for concurrent use.
type Context struct {
	mu      sync.RWMutex
	token   string
	profile *Profile

	// onForcedLogout is invoked after the credential and profile have been
	// cleared. Typically it redirects the application to its login entry
	// point. It is a process-wide, one-way side effect.
	onForcedLogout func()
}

// NewContext builds a session context. onForcedLogout may be nil.
func NewContext(onForcedLogout func()) *Context {
	return &Context{onForcedLogout: onForcedLogout}
}

// SetToken stores the access credential. A "Bearer " prefix, if present,
// is stripped so callers can pass raw header values.
func (c *Context) SetToken(token string) {
	trimmed := strings.TrimSpace(token)
	if len(trimmed) > 7 && strings.EqualFold(trimmed[:7], "bearer ") {
		trimmed = strings.TrimSpace(trimmed[7:])
	}
	c.mu.Lock()
	c.token = trimmed
	c.mu.Unlock()
}

// Token returns the stored credential, or "" when logged out.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetProfile caches the logged-in user's profile. Passing nil clears it.
func (c *Context) SetProfile(p *Profile) {
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()
}

// Profile returns the cached profile, or nil.
func (c *Context) Profile() *Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

// CurrentUserID resolves the local user id from the cached profile, falling
// back to the id claim of the stored token. Returns 0 when unknown.
func (c *Context) CurrentUserID() int {
	c.mu.RLock()
	token := c.token
	profile := c.profile
	c.mu.RUnlock()

	if profile != nil && profile.ID != 0 {
		return profile.ID
	}
	if token == "" {
		return 0
	}
	// The client has no signing secret; the id claim is advisory here and
	// the server re-validates the token on every request anyway.
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0
	}
	return claims.ID
}

// ForceLogout clears the credential and cached profile, then fires the
// forced-logout hook. Calling it while already logged out is harmless.
func (c *Context) ForceLogout() {
	c.mu.Lock()
	c.token = ""
	c.profile = nil
	hook := c.onForcedLogout
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
}
