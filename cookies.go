package authgate

import (
	"net/http"
	"time"
)

// CookieJar abstracts the transport cookies the engine reads and writes. It
// keeps the engine independent of any particular HTTP framework: the caller
// adapts its request and response types once.
type CookieJar interface {
	// Get returns the named cookie value, or "" when absent.
	Get(name string) string
	// Set writes a cookie with the given lifetime.
	Set(name, value string, ttl time.Duration, secure, httpOnly bool)
	// Clear removes the named cookie.
	Clear(name string)
}

// HTTPCookies adapts net/http request and response types to CookieJar.
type HTTPCookies struct {
	R *http.Request
	W http.ResponseWriter
	// Path defaults to "/" when empty.
	Path string
}

func (h *HTTPCookies) path() string {
	if h.Path == "" {
		return "/"
	}
	return h.Path
}

// Get describes the get operation and its observable behavior.
//
// Get may return an error when input validation, dependency calls, or security checks fail.
// Get does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (h *HTTPCookies) Get(name string) string {
	if h == nil || h.R == nil {
		return ""
	}
	c, err := h.R.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Set describes the set operation and its observable behavior.
//
// Set may return an error when input validation, dependency calls, or security checks fail.
// Set does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (h *HTTPCookies) Set(name, value string, ttl time.Duration, secure, httpOnly bool) {
	if h == nil || h.W == nil {
		return
	}
	http.SetCookie(h.W, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.path(),
		MaxAge:   int(ttl.Seconds()),
		Secure:   secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear describes the clear operation and its observable behavior.
//
// Clear may return an error when input validation, dependency calls, or security checks fail.
// Clear does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (h *HTTPCookies) Clear(name string) {
	if h == nil || h.W == nil {
		return
	}
	http.SetCookie(h.W, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   h.path(),
		MaxAge: -1,
	})
}

// mapCookies is an in-memory CookieJar for tests and non-HTTP callers.
type mapCookies struct {
	values map[string]string
}

func newMapCookies() *mapCookies {
	return &mapCookies{values: map[string]string{}}
}

func (m *mapCookies) Get(name string) string { return m.values[name] }

func (m *mapCookies) Set(name, value string, ttl time.Duration, secure, httpOnly bool) {
	m.values[name] = value
}

func (m *mapCookies) Clear(name string) { delete(m.values, name) }
