// Package namespace provides namespace encoding/decoding helpers used by the
// primary store's namespace secondary index and the retrieval pipeline's
// namespace filter.
package namespace

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// sep is the Record Separator (ASCII 30) used to join encoded namespace segments.
	// Percent-encoding guarantees no segment ever contains this character.
	sep = "\x1e"
)

// Encode encodes a []string namespace into a single storage string.
// Each segment is percent-encoded (url.PathEscape), then joined with \x1e (RS).
// Returns an error if any segment is empty or if depth > maxDepth.
func Encode(segments []string, maxDepth int) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("namespace must have at least one segment")
	}
	if maxDepth > 0 && len(segments) > maxDepth {
		return "", fmt.Errorf("namespace depth %d exceeds configured limit %d", len(segments), maxDepth)
	}
	encoded := make([]string, len(segments))
	for i, seg := range segments {
		if seg == "" {
			return "", fmt.Errorf("namespace segment %d is empty", i)
		}
		encoded[i] = url.PathEscape(seg)
	}
	return strings.Join(encoded, sep), nil
}

// Decode decodes a storage string back into a []string namespace.
func Decode(encoded string) ([]string, error) {
	if encoded == "" {
		return nil, fmt.Errorf("encoded namespace is empty")
	}
	parts := strings.Split(encoded, sep)
	segments := make([]string, len(parts))
	for i, part := range parts {
		seg, err := url.PathUnescape(part)
		if err != nil {
			return nil, fmt.Errorf("failed to decode namespace segment %d %q: %w", i, part, err)
		}
		segments[i] = seg
	}
	return segments, nil
}

// PrefixPattern returns the SQL LIKE pattern that matches namespaces under the
// given prefix. The pattern matches the prefix exactly or any descendant,
// using the RS separator as the delimiter so "users\x1ealice" never matches
// "users\x1ealiced".
func PrefixPattern(prefixEncoded string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefixEncoded)
	return escaped + sep + "%"
}

// MatchesExact returns true if encoded equals the encoded prefix exactly.
func MatchesExact(encoded, prefixEncoded string) bool {
	return encoded == prefixEncoded
}

// HasPrefix returns true if encoded == prefixEncoded OR starts with prefixEncoded + RS.
func HasPrefix(encoded, prefixEncoded string) bool {
	return encoded == prefixEncoded || strings.HasPrefix(encoded, prefixEncoded+sep)
}

// Truncate returns the first depth segments of the encoded namespace,
// re-encoded. If depth >= actual depth, returns the encoded namespace unchanged.
func Truncate(encoded string, depth int) string {
	parts := strings.SplitN(encoded, sep, depth+1)
	if len(parts) <= depth {
		return encoded
	}
	return strings.Join(parts[:depth], sep)
}

// Depth returns the number of segments in the encoded namespace.
func Depth(encoded string) int {
	return strings.Count(encoded, sep) + 1
}

// MatchesSuffix returns true if the decoded namespace ends with each segment in suffix.
func MatchesSuffix(encoded string, suffix []string) bool {
	if len(suffix) == 0 {
		return true
	}
	segments, err := Decode(encoded)
	if err != nil || len(segments) < len(suffix) {
		return false
	}
	tail := segments[len(segments)-len(suffix):]
	for i, s := range suffix {
		if tail[i] != s {
			return false
		}
	}
	return true
}
