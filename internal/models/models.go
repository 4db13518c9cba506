package models

import (
	"sort"
	"time"
)

// Cookie names the upstream relies on.
const (
	CookieClearance    = "cf_clearance"
	CookieSession      = "session_token"
	CookieAnalytics    = "_ga"
	CookieAnalyticsTag = "_ga_LFRGN2J2RV"
)

// OptionalCookies are forwarded on session probes when present.
var OptionalCookies = []string{CookieAnalytics, CookieAnalyticsTag}

// Message represents a single conversational message in the unified schema.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the canonical representation of an inbound chat completion.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	TopP        float64
	Stream      bool
}

// UpstreamRequest is the body posted to the upstream chat endpoint.
type UpstreamRequest struct {
	ID          string    `json:"id"`
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	System      string    `json:"system"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"topP"`
	Context     []any     `json:"context"`
}

// ModelDescriptor identifies an upstream model.
type ModelDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CookieSet maps cookie names to values. It is treated as immutable once
// handed out; holders copy before mutating.
type CookieSet map[string]string

// Complete reports whether both required tokens are present.
func (c CookieSet) Complete() bool {
	return c[CookieClearance] != "" && c[CookieSession] != ""
}

// Clone returns an independent copy of the set.
func (c CookieSet) Clone() CookieSet {
	out := make(CookieSet, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a copy of c with every entry of other applied on top.
func (c CookieSet) Merge(other CookieSet) CookieSet {
	out := c.Clone()
	for k, v := range other {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Names returns the cookie names in sorted order.
func (c CookieSet) Names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot is a cookie set plus the moment it was last confirmed.
type Snapshot struct {
	Cookies   CookieSet
	UpdatedAt time.Time
}

// Fresh reports whether the snapshot is complete and younger than maxAge.
func (s Snapshot) Fresh(maxAge time.Duration, now time.Time) bool {
	if !s.Cookies.Complete() {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	return now.Sub(s.UpdatedAt) <= maxAge
}
