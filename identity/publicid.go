package identity

import "fmt"

// ValidatePublicID checks that id is a well-formed public ID: exactly
// PublicIDLength lowercase hex characters.
func ValidatePublicID(id string) error {
	if len(id) != PublicIDLength {
		return &ValidationError{Err: fmt.Errorf("%w: length %d, want %d", ErrInvalidPublicID, len(id), PublicIDLength)}
	}
	if !isLowerHex(id) {
		return &ValidationError{Err: fmt.Errorf("%w: not lowercase hex", ErrInvalidPublicID)}
	}
	return nil
}

// Short returns the first 8 characters of an ID for logs and default names.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// DefaultDisplayName is the name given to a contact added without one.
func DefaultDisplayName(id string) string {
	return "User " + Short(id)
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
