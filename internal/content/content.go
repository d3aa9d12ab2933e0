package content

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"duet/internal/models"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and has a sane length.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return fmt.Errorf("username must be %d to %d characters long", minUsernameLength, maxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// MessageText trims an outgoing message. Empty results and texts longer than
// maxRunes are rejected with models.ErrInvalidMessage. Markup is kept as
// typed: clients escape on render.
func MessageText(text string, maxRunes int) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: text is not valid utf-8", models.ErrInvalidMessage)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", models.ErrInvalidMessage)
	}
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		return "", fmt.Errorf("%w: text longer than %d characters", models.ErrInvalidMessage, maxRunes)
	}
	return text, nil
}
