package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
)

const (
	// CodeCount is the number of recovery codes generated per identity
	CodeCount = 12
	// CodeBytes is the amount of randomness in one recovery code
	CodeBytes = 8
	// CodeLength is the hex length of one recovery code
	CodeLength = CodeBytes * 2
	// PublicIDLength is the hex length of a public ID (SHA-256)
	PublicIDLength = sha256.Size * 2
)

// CreateIdentity generates CodeCount fresh recovery codes and derives the
// public ID from them. The codes are the only way to regenerate the ID and
// must be shown to the user once; only their hashes should be stored.
func CreateIdentity() (string, []string, error) {
	codes := make([]string, 0, CodeCount)
	for i := 0; i < CodeCount; i++ {
		var buf [CodeBytes]byte
		if _, err := rand.Read(buf[:]); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "CreateIdentity",
				"error":    err.Error(),
			}).Error("Failed to read random bytes for recovery code")
			return "", nil, &DerivationError{Op: "code generation", Err: err}
		}
		codes = append(codes, hex.EncodeToString(buf[:]))
	}

	publicID, err := DeriveIdentityFromCodes(codes)
	if err != nil {
		return "", nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "CreateIdentity",
		"public_id": Short(publicID),
	}).Info("Created new identity")

	return publicID, codes, nil
}

// DeriveIdentityFromCodes computes the public ID for a set of recovery codes.
// Codes are sorted before they are concatenated and hashed, so any ordering
// of the same set yields the same ID.
func DeriveIdentityFromCodes(codes []string) (string, error) {
	if len(codes) == 0 {
		return "", &ValidationError{Err: ErrNoCodes}
	}

	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)

	digest := sha256.Sum256([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(digest[:]), nil
}

// HashRecoveryCodes hashes every code independently, preserving input order.
// The hashes let a later recovery attempt be verified without storing codes.
func HashRecoveryCodes(codes []string) []string {
	hashed := make([]string, len(codes))
	for i, code := range codes {
		digest := sha256.Sum256([]byte(code))
		hashed[i] = hex.EncodeToString(digest[:])
	}
	return hashed
}

// VerifyRecoveryCodes reports whether input hashes to exactly the stored
// multiset of hashes. Order is ignored on both sides. A length mismatch is a
// plain false, not an error.
func VerifyRecoveryCodes(input, storedHashes []string) bool {
	if len(input) != len(storedHashes) {
		return false
	}

	got := HashRecoveryCodes(input)
	want := append([]string(nil), storedHashes...)
	sort.Strings(got)
	sort.Strings(want)

	match := 1
	for i := range got {
		match &= subtle.ConstantTimeCompare([]byte(got[i]), []byte(strings.ToLower(want[i])))
	}
	return match == 1
}

// ValidateCodes checks the shape of a recovery set. The count is checked
// first; every malformed code is then reported in a single ValidationError.
func ValidateCodes(codes []string) error {
	if len(codes) != CodeCount {
		return &ValidationError{Err: ErrCodeCount, Got: len(codes)}
	}

	var invalid []InvalidCode
	for i, code := range codes {
		if !isHex(code, CodeLength) {
			invalid = append(invalid, InvalidCode{Index: i, Value: code})
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{Err: ErrCodeFormat, Invalid: invalid, Got: len(codes)}
	}
	return nil
}

// ParseCodes splits free-form user input on whitespace and commas and
// lowercases every code. It performs no validation.
func ParseCodes(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	codes := make([]string, 0, len(fields))
	for _, f := range fields {
		codes = append(codes, strings.ToLower(f))
	}
	return codes
}

// Recover validates a user-supplied recovery set and returns the public ID
// it derives together with the hashes to store for later verification.
func Recover(codes []string) (string, []string, error) {
	normalized := make([]string, len(codes))
	for i, c := range codes {
		normalized[i] = strings.ToLower(strings.TrimSpace(c))
	}

	if err := ValidateCodes(normalized); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Recover",
			"error":    err.Error(),
		}).Warn("Rejected recovery code set")
		return "", nil, err
	}

	publicID, err := DeriveIdentityFromCodes(normalized)
	if err != nil {
		return "", nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Recover",
		"public_id": Short(publicID),
	}).Info("Recovered identity from codes")

	return publicID, HashRecoveryCodes(normalized), nil
}
