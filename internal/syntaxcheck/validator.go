// Package syntaxcheck implements the syntax validator interface the
// pipeline consumes. The rules — DNS label syntax, no IP literals,
// letters-only TLD — are specific enough that no general
// email-validation library expresses them without gaps, so this is a
// bespoke strings-based implementation.
package syntaxcheck

import (
	"strings"
)

const (
	maxTotalLength  = 254
	maxLocalLength  = 64
	maxDomainLength = 253
	minTLDLength    = 2
)

// Result is the validator's verdict. Domain is populated iff Valid.
type Result struct {
	Valid   bool
	Message string
	Domain  string
}

// Validator validates a bare, already-decoded email address string.
type Validator interface {
	Validate(address string) Result
}

// Default implements Validator with: ASCII-only, exactly one '@',
// an RFC-ish local-part character set with no leading/trailing/
// consecutive dots, and DNS-label domain syntax with a letters-only TLD.
type Default struct{}

func New() Default { return Default{} }

func (Default) Validate(address string) Result {
	if !isASCII(address) {
		return fail("address must be ASCII")
	}
	if len(address) > maxTotalLength {
		return fail("address exceeds maximum length")
	}

	at := strings.Count(address, "@")
	if at != 1 {
		return fail("address must contain exactly one '@'")
	}

	idx := strings.IndexByte(address, '@')
	local, domain := address[:idx], address[idx+1:]

	if msg := validateLocalPart(local); msg != "" {
		return fail(msg)
	}
	if msg := validateDomain(domain); msg != "" {
		return fail(msg)
	}

	return Result{Valid: true, Domain: strings.ToLower(domain)}
}

func fail(msg string) Result { return Result{Valid: false, Message: msg} }

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

const localAllowed = "!#$%&'*+/=?^_`{|}~.-"

func isLocalChar(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	default:
		return strings.IndexByte(localAllowed, b) >= 0
	}
}

func validateLocalPart(local string) string {
	if local == "" {
		return "local part must not be empty"
	}
	if len(local) > maxLocalLength {
		return "local part exceeds maximum length"
	}
	if local[0] == '.' || local[len(local)-1] == '.' {
		return "local part must not start or end with a dot"
	}
	if strings.Contains(local, "..") {
		return "local part must not contain consecutive dots"
	}
	for i := 0; i < len(local); i++ {
		if !isLocalChar(local[i]) {
			return "local part contains an invalid character"
		}
	}
	return ""
}

func validateDomain(domain string) string {
	if domain == "" {
		return "domain must not be empty"
	}
	if len(domain) > maxDomainLength {
		return "domain exceeds maximum length"
	}
	if strings.HasPrefix(domain, "[") || strings.HasSuffix(domain, "]") {
		return "IP-literal domains are not supported"
	}
	if domain[0] == '.' || domain[len(domain)-1] == '.' {
		return "domain must not start or end with a dot"
	}
	if strings.Contains(domain, "..") {
		return "domain must not contain consecutive dots"
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return "domain must contain at least one dot"
	}
	for _, label := range labels {
		if msg := validateLabel(label); msg != "" {
			return msg
		}
	}

	tld := labels[len(labels)-1]
	if len(tld) < minTLDLength {
		return "top-level domain must be at least two characters"
	}
	for i := 0; i < len(tld); i++ {
		if !isLetter(tld[i]) {
			return "top-level domain must contain only letters"
		}
	}
	return ""
}

func validateLabel(label string) string {
	if label == "" || len(label) > 63 {
		return "domain label has invalid length"
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return "domain label must not start or end with a hyphen"
	}
	for i := 0; i < len(label); i++ {
		b := label[i]
		if !(isLetter(b) || isDigit(b) || b == '-') {
			return "domain label contains an invalid character"
		}
	}
	return ""
}

func isLetter(b byte) bool { return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') }
func isDigit(b byte) bool  { return b >= '0' && b <= '9' }
