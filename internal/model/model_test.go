package model

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"e164", "+15551234567", "+15551234567", false},
		{"national", "(201) 555-0123", "+12015550123", false},
		{"dashes", "201-555-0123", "+12015550123", false},
		{"empty", "", "", true},
		{"letters", "not a number", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.input, "US")
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizePhone(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPhoneDigits(t *testing.T) {
	if got := PhoneDigits("+1 (555) 123-4567"); got != "15551234567" {
		t.Errorf("PhoneDigits = %q, want 15551234567", got)
	}
}

func TestTransientID(t *testing.T) {
	id := NewTransientID()
	if !IsTransient(id) {
		t.Errorf("IsTransient(%q) = false", id)
	}
	if IsTransient("SM123") {
		t.Error("durable id reported as transient")
	}
	if NewTransientID() == id {
		t.Error("transient ids must be unique")
	}
}

func TestCloneDoesNotShareAttachments(t *testing.T) {
	m := Message{ID: "m1", CreatedAt: time.Now(), Attachments: []Attachment{{ID: "a1"}}}
	c := m.Clone()
	c.Attachments[0].URL = "https://example.test/a1"
	if m.Attachments[0].URL != "" {
		t.Error("Clone shares attachment slice with original")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("hi", 0); got != "hi" {
		t.Errorf("Preview = %q, want hi", got)
	}
	if got := Preview("", 2); got != "[2 attachments]" {
		t.Errorf("Preview = %q, want [2 attachments]", got)
	}
	long := strings.Repeat("x", 300)
	if got := Preview(long, 0); len(got) >= len(long) {
		t.Errorf("Preview length = %d, want truncated", len(got))
	}
}
