package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveNameFromEmail(t *testing.T) {
	tests := []struct {
		name    string
		address string
		first   string
		last    string
	}{
		{"dotted local part", "jane.doe@example.test", "Jane", "Doe"},
		{"single segment gets fallback surname", "jane@example.test", "Jane", "User"},
		{"middle segments are skipped", "jane.van.doe@example.test", "Jane", "Doe"},
		{"underscore and hyphen separators", "jane_van-doe@example.test", "Jane", "Doe"},
		{"plus addressing", "jane+invites@example.test", "Jane", "Invites"},
		{"no at sign", "jane.doe", "Jane", "Doe"},
		{"empty address", "", "User", "User"},
		{"separators only", "._-@example.test", "User", "User"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := DeriveNameFromEmail(tt.address)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}
