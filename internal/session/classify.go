package session

import "strings"

// ErrorKind is the retry-relevant classification of a handled error.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindNetwork
	ErrorKindAuth
)

// Classification is the result of classifying one error. Classification
// happens exactly once, centrally, so retry decisions cannot diverge
// between components.
type Classification struct {
	Kind        ErrorKind
	Retryable   bool
	UserMessage string
}

// User-facing strings. Short and non-technical; the raw error only goes to
// the internal log.
const (
	msgAuthFailure    = "Authentication failed. Please update your credentials and reconnect."
	msgNetworkFailure = "Connection problem. Retrying automatically."
	msgGenericFailure = "Something went wrong with the session."
)

var authPatterns = []string{
	"auth",
	"unauthorized",
	"forbidden",
	"401",
	"403",
	"invalid token",
	"expired token",
}

var networkPatterns = []string{
	"network",
	"connection",
	"timeout",
	"offline",
	"unreachable",
	"econnrefused",
	"etimedout",
}

// Classify maps an error onto its kind by matching patterns against the
// message text. Pattern matching on strings is fragile, but it is the
// contract the transports currently provide; auth checks run first so a
// "connection closed: invalid token" style message locks out retries
// instead of hammering a server that will keep rejecting the credential.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: ErrorKindUnknown, UserMessage: msgGenericFailure}
	}
	text := strings.ToLower(err.Error())

	for _, p := range authPatterns {
		if strings.Contains(text, p) {
			return Classification{Kind: ErrorKindAuth, Retryable: false, UserMessage: msgAuthFailure}
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(text, p) {
			return Classification{Kind: ErrorKindNetwork, Retryable: true, UserMessage: msgNetworkFailure}
		}
	}
	return Classification{Kind: ErrorKindUnknown, Retryable: true, UserMessage: msgGenericFailure}
}
