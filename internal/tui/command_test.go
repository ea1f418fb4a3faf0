package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"open +15551234567", Command{Name: "open", Args: "+15551234567"}},
		{":o  555 123 4567 ", Command{Name: "open", Args: "555 123 4567"}},
		{"grep pizza tonight", Command{Name: "grep", Args: "pizza tonight"}},
		{"a ~/cat.png", Command{Name: "attach", Args: "~/cat.png"}},
		{"Q", Command{Name: "quit"}},
		{"rm", Command{Name: "delete"}},
		{"unread", Command{Name: "unread"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommand(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, in := range []string{"", "  ", "frobnicate", "open", "grep   "} {
		_, err := ParseCommand(in)
		assert.Error(t, err, in)
	}
}
