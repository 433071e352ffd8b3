package pairing

import (
	"fmt"
	"net/url"
	"strings"
)

// QueryKey is the query parameter a join URL carries the token in.
const QueryKey = "code"

// tokenQueryKeys are tried in order. code is what BuildJoinURL writes; the others
// are accepted from older links.
var tokenQueryKeys = []string{QueryKey, "token", "pairingToken"}

// ExtractToken returns the pairing token carried by input, which may be a join URL
// or a bare token. Input holding no token is returned unchanged, so
// ExtractToken(ExtractToken(s)) == ExtractToken(s) for every s.
func ExtractToken(input string) string {
	if token, ok := LookupToken(input); ok {
		return token
	}
	return input
}

// LookupToken is ExtractToken for callers that need to tell a real token apart
// from irrelevant input. A bare value counts as a token; a URL only does when
// one of the recognised query keys holds a value.
func LookupToken(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}

	query, hasQuery := queryPart(trimmed)
	if !hasQuery {
		if strings.Contains(trimmed, "://") || strings.ContainsAny(trimmed, " \t\r\n#") {
			return "", false
		}
		return trimmed, true
	}

	// ParseQuery keeps every pair it could decode alongside the first error.
	values, _ := url.ParseQuery(query)
	for _, key := range tokenQueryKeys {
		token := strings.TrimSpace(values.Get(key))
		if token != "" && !strings.ContainsAny(token, "?#") {
			return token, true
		}
	}
	return "", false
}

func queryPart(s string) (string, bool) {
	_, query, found := strings.Cut(s, "?")
	if !found {
		return "", false
	}
	query, _, _ = strings.Cut(query, "#")
	return query, true
}

// BuildJoinURL sets the token on base's query string, keeping any query the base
// already has (for example page=join).
func BuildJoinURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse join base url: %w", err)
	}
	q := u.Query()
	q.Set(QueryKey, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FormatRemaining renders a countdown as m:ss.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
