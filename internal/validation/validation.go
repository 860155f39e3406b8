package validation

import (
	"fmt"
	"regexp"
)

var (
	// uuidRegex matches standard UUID format
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// idRegex matches safe opaque identifiers (alphanumeric, dash, underscore)
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)
)

// ValidateUUID checks if the string is a valid UUID
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// ValidateSessionID validates an interview session / candidate id.
// Session ids are UUIDs or opaque tokens minted by the dashboard.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if uuidRegex.MatchString(id) {
		return nil
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("invalid session ID format: %s", id)
	}
	return nil
}

// ValidateMessageID validates a chat message id
func ValidateMessageID(id string) error {
	if id == "" {
		return fmt.Errorf("message ID cannot be empty")
	}
	if !idRegex.MatchString(id) && !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid message ID format: %s", id)
	}
	return nil
}
