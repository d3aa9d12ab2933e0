package content

import (
	"errors"
	"strings"
	"testing"

	"duet/internal/models"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid alphanumeric", "user123", false},
		{"Valid with dot", "user.name", false},
		{"Valid with dash", "user-name", false},
		{"Valid with underscore", "user_name", false},
		{"Invalid space", "user name", true},
		{"Invalid special char", "user@name", true},
		{"Invalid script", "<script>", true},
		{"Empty", "", true},
		{"Too short", "ab", true},
		{"Too long", strings.Repeat("a", 33), true},
		{"Mixed case", "User.Name-123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateUsername(tt.input); (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
		wantErr  bool
	}{
		{"Plain", "hello", 10, "hello", false},
		{"Trimmed", "  hello \n", 10, "hello", false},
		{"Empty", "   ", 10, "", true},
		{"Apostrophe", "I'm here", 100, "I'm here", false},
		{"Ampersand", "Tom & Jerry", 100, "Tom & Jerry", false},
		{"Less than", "if a<b then", 100, "if a<b then", false},
		{"Heart", "<3 you", 100, "<3 you", false},
		{"Markup kept as typed", "<b>hi</b>", 100, "<b>hi</b>", false},
		{"Exactly max", "ab🤖", 3, "ab🤖", false},
		{"Over max", "abcd", 3, "", true},
		{"Invalid utf8", string([]byte{0xff, 0xfe}), 10, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MessageText(tt.input, tt.max)
			if tt.wantErr {
				if !errors.Is(err, models.ErrInvalidMessage) {
					t.Fatalf("MessageText() error = %v, want ErrInvalidMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MessageText() unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("MessageText() = %q, want %q", got, tt.expected)
			}
		})
	}
}
