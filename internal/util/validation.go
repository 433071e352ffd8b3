package util

import (
	"regexp"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

var pairingTokenRegex = regexp.MustCompile(`^[A-Z2-9]{4}-[A-Z2-9]{4}$`)

// IsPairingTokenShaped reports whether a normalized token could have been issued by this broker.
func IsPairingTokenShaped(token string) bool {
	return pairingTokenRegex.MatchString(token)
}
