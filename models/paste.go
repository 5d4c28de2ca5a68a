package models

import (
	"time"
)

// Paste represents a stored paste record.
// Timestamps are milliseconds since the Unix epoch.
type Paste struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      *int64 `json:"expires_at,omitempty"`
	RemainingViews *int   `json:"remaining_views,omitempty"`
}

// Action is the outcome of consuming one view of a paste.
type Action int

const (
	// ActionNotFound means the paste is dead and must be deleted.
	ActionNotFound Action = iota
	// ActionReturn means the paste has no view limit and is returned as is.
	ActionReturn
	// ActionDecrement means the view counter must be persisted as one less.
	ActionDecrement
	// ActionBurn means this is the final permitted view: delete, then return.
	ActionBurn
)

func (a Action) String() string {
	switch a {
	case ActionNotFound:
		return "not_found"
	case ActionReturn:
		return "return"
	case ActionDecrement:
		return "decrement"
	case ActionBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// Millis converts t to milliseconds since the Unix epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// HasExpiration reports whether the paste has a time limit.
func (p *Paste) HasExpiration() bool {
	return p.ExpiresAt != nil
}

// HasViewLimit reports whether the paste has a view limit.
func (p *Paste) HasViewLimit() bool {
	return p.RemainingViews != nil
}

// IsExpiredAt reports whether the paste is past its expiry at nowMs.
// A paste expiring exactly at nowMs is still readable.
func (p *Paste) IsExpiredAt(nowMs int64) bool {
	return p.ExpiresAt != nil && nowMs > *p.ExpiresAt
}

// ExpiresTime returns the absolute expiry as a time.Time, or the zero time.
func (p *Paste) ExpiresTime() time.Time {
	if p.ExpiresAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*p.ExpiresAt).UTC()
}

// CreatedTime returns the creation instant as a time.Time.
func (p *Paste) CreatedTime() time.Time {
	return time.UnixMilli(p.CreatedAt).UTC()
}

// Consume decides what a single read at nowMs does to the paste. It never
// mutates p; the returned paste is what the reader receives (nil for
// ActionNotFound).
func (p *Paste) Consume(nowMs int64) (Action, *Paste) {
	if p.IsExpiredAt(nowMs) {
		return ActionNotFound, nil
	}
	if p.RemainingViews == nil {
		return ActionReturn, p.Clone()
	}
	if *p.RemainingViews <= 0 {
		return ActionNotFound, nil
	}

	out := p.Clone()
	left := *p.RemainingViews - 1
	if left <= 0 {
		zero := 0
		out.RemainingViews = &zero
		return ActionBurn, out
	}
	out.RemainingViews = &left
	return ActionDecrement, out
}

// Clone returns a deep copy of the paste.
func (p *Paste) Clone() *Paste {
	if p == nil {
		return nil
	}
	cp := *p
	if p.ExpiresAt != nil {
		v := *p.ExpiresAt
		cp.ExpiresAt = &v
	}
	if p.RemainingViews != nil {
		v := *p.RemainingViews
		cp.RemainingViews = &v
	}
	return &cp
}

// Int returns a pointer to v. Handy for optional fields.
func Int(v int) *int {
	return &v
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
