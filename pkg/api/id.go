package api

import (
	"crypto/rand"
	"regexp"
)

const (
	callIDPrefix  = "call_"
	callIDRandLen = 24
	alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var callIDPattern = regexp.MustCompile(`^call_[a-zA-Z0-9]{24}$`)

// NewCallID returns "call_" followed by 24 random alphanumerics.
func NewCallID() string {
	return callIDPrefix + randomAlphanumeric(callIDRandLen)
}

// ValidateCallID reports whether id has the shape NewCallID produces.
func ValidateCallID(id string) bool {
	return callIDPattern.MatchString(id)
}

// randomAlphanumeric draws bytes from crypto/rand and rejects those at or
// above the largest multiple of the alphabet size, keeping the result
// unbiased.
func randomAlphanumeric(n int) string {
	const limit = 256 - 256%len(alphanumerics)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		// crypto/rand.Read never returns an error on supported platforms.
		_, _ = rand.Read(buf)
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphanumerics[int(b)%len(alphanumerics)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
