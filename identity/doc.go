// Package identity implements chamber's identity and recovery scheme.
//
// A chamber identity has no key pair. It is a public ID derived from twelve
// random recovery codes:
//
//	publicID = hex(SHA-256(concat(sort(codes))))
//
// Each code is eight random bytes written as sixteen hex characters. Because
// the codes are sorted before hashing, the user may re-enter them in any
// order. The public ID doubles as the peer address on the transport layer.
//
// Only per-code SHA-256 hashes are persisted (see HashRecoveryCodes), which is
// enough to check a later recovery attempt with VerifyRecoveryCodes without
// keeping the codes themselves.
//
// # Recovery
//
// User input goes through ParseCodes and Recover. Recover rejects a set of the
// wrong size before hashing anything and reports every malformed code at once:
//
//	codes := identity.ParseCodes(input)
//	publicID, hashes, err := identity.Recover(codes)
//	var verr *identity.ValidationError
//	if errors.As(err, &verr) {
//	    for _, bad := range verr.Invalid {
//	        fmt.Printf("code %d is malformed\n", bad.Index+1)
//	    }
//	}
package identity
