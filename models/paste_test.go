package models

import (
	"testing"
	"time"
)

func TestPaste_IsExpiredAt(t *testing.T) {
	now := time.Now().UnixMilli()

	tests := []struct {
		name      string
		expiresAt *int64
		want      bool
	}{
		{
			name:      "not expired - future date",
			expiresAt: Int64(now + 60_000),
			want:      false,
		},
		{
			name:      "expired - past date",
			expiresAt: Int64(now - 60_000),
			want:      true,
		},
		{
			name:      "no expiration - nil",
			expiresAt: nil,
			want:      false,
		},
		{
			name:      "expires exactly now - still readable",
			expiresAt: Int64(now),
			want:      false,
		},
		{
			name:      "just expired - 1ms ago",
			expiresAt: Int64(now - 1),
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Paste{ExpiresAt: tt.expiresAt}
			if got := p.IsExpiredAt(now); got != tt.want {
				t.Errorf("Paste.IsExpiredAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPaste_Consume(t *testing.T) {
	now := int64(1_700_000_000_000)

	tests := []struct {
		name      string
		paste     Paste
		want      Action
		wantViews *int
	}{
		{
			name:  "unlimited views",
			paste: Paste{ID: "a", Content: "x"},
			want:  ActionReturn,
		},
		{
			name:  "expired",
			paste: Paste{ID: "a", Content: "x", ExpiresAt: Int64(now - 1)},
			want:  ActionNotFound,
		},
		{
			name:  "expired takes precedence over views",
			paste: Paste{ID: "a", Content: "x", ExpiresAt: Int64(now - 1), RemainingViews: Int(5)},
			want:  ActionNotFound,
		},
		{
			name:  "zero views left",
			paste: Paste{ID: "a", Content: "x", RemainingViews: Int(0)},
			want:  ActionNotFound,
		},
		{
			name:  "negative views left",
			paste: Paste{ID: "a", Content: "x", RemainingViews: Int(-3)},
			want:  ActionNotFound,
		},
		{
			name:      "last view burns",
			paste:     Paste{ID: "a", Content: "x", RemainingViews: Int(1)},
			want:      ActionBurn,
			wantViews: Int(0),
		},
		{
			name:      "decrement",
			paste:     Paste{ID: "a", Content: "x", RemainingViews: Int(3)},
			want:      ActionDecrement,
			wantViews: Int(2),
		},
		{
			name:      "not yet expired with views",
			paste:     Paste{ID: "a", Content: "x", ExpiresAt: Int64(now + 1000), RemainingViews: Int(2)},
			want:      ActionDecrement,
			wantViews: Int(1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.paste.Clone()
			action, out := tt.paste.Consume(now)
			if action != tt.want {
				t.Fatalf("Consume() action = %v, want %v", action, tt.want)
			}
			if action == ActionNotFound {
				if out != nil {
					t.Errorf("expected nil paste for not found, got %+v", out)
				}
				return
			}
			if out.Content != tt.paste.Content {
				t.Errorf("content = %q, want %q", out.Content, tt.paste.Content)
			}
			switch {
			case tt.wantViews == nil && out.RemainingViews != nil:
				t.Errorf("expected no view count, got %d", *out.RemainingViews)
			case tt.wantViews != nil && (out.RemainingViews == nil || *out.RemainingViews != *tt.wantViews):
				t.Errorf("remaining views = %v, want %d", out.RemainingViews, *tt.wantViews)
			}
			// The input must not be mutated.
			if (before.RemainingViews == nil) != (tt.paste.RemainingViews == nil) ||
				(before.RemainingViews != nil && *before.RemainingViews != *tt.paste.RemainingViews) {
				t.Errorf("Consume mutated the receiver")
			}
		})
	}
}

func TestPaste_Clone(t *testing.T) {
	p := &Paste{ID: "abc", Content: "hello", ExpiresAt: Int64(10), RemainingViews: Int(2)}
	cp := p.Clone()
	*cp.RemainingViews = 99
	*cp.ExpiresAt = 99
	if *p.RemainingViews != 2 || *p.ExpiresAt != 10 {
		t.Fatalf("Clone shares pointers with the original")
	}
	var nilPaste *Paste
	if nilPaste.Clone() != nil {
		t.Fatalf("Clone of nil should be nil")
	}
}

func TestPaste_Times(t *testing.T) {
	p := &Paste{CreatedAt: 1_000, ExpiresAt: Int64(61_000)}
	if got := p.CreatedTime(); !got.Equal(time.UnixMilli(1_000)) {
		t.Errorf("CreatedTime() = %v", got)
	}
	if got := p.ExpiresTime(); !got.Equal(time.UnixMilli(61_000)) {
		t.Errorf("ExpiresTime() = %v", got)
	}
	if !(&Paste{}).ExpiresTime().IsZero() {
		t.Errorf("expected zero expiry for paste without TTL")
	}
}

func TestAction_String(t *testing.T) {
	if ActionBurn.String() != "burn" || ActionNotFound.String() != "not_found" {
		t.Errorf("unexpected action names")
	}
	if Action(42).String() != "unknown" {
		t.Errorf("expected unknown for out of range action")
	}
}
