// Package domainname normalizes and splits registrable names.
package domainname

import (
	"strings"

	"github.com/smallbiznis/registry/internal/registryerr"
	"golang.org/x/net/idna"
)

const (
	maxNameLength  = 253
	maxLabelLength = 63
)

var (
	ErrInvalidName     = registryerr.Validation("invalid_domain_name", "Domain name is not a valid host name")
	ErrNotSecondLevel  = registryerr.Validation("domain_not_second_level", "Domain name must have exactly one label under the TLD")
	ErrEmptyName       = registryerr.Validation("empty_domain_name", "Domain name is required")
	ErrInvalidPunycode = registryerr.Validation("invalid_punycode", "Domain name has an invalid IDN encoding")
)

var profile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(true),
	idna.BidiRule(),
)

// Normalize lowercases, strips a trailing dot and converts to A-labels.
func Normalize(raw string) (string, error) {
	name := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if name == "" {
		return "", ErrEmptyName
	}
	ascii, err := profile.ToASCII(name)
	if err != nil {
		return "", ErrInvalidPunycode
	}
	ascii = strings.ToLower(ascii)
	if len(ascii) > maxNameLength {
		return "", ErrInvalidName
	}
	for _, label := range strings.Split(ascii, ".") {
		if !validLabel(label) {
			return "", ErrInvalidName
		}
	}
	return ascii, nil
}

func validLabel(label string) bool {
	if label == "" || len(label) > maxLabelLength {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	// Only IDN A-labels may carry hyphens in positions three and four.
	if len(label) >= 4 && label[2:4] == "--" && !strings.HasPrefix(label, "xn--") {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}

// Split returns the registrable label and the TLD suffix of a normalized name.
func Split(name string) (label, tld string, err error) {
	idx := strings.IndexByte(name, '.')
	if idx <= 0 || idx == len(name)-1 {
		return "", "", ErrNotSecondLevel
	}
	return name[:idx], name[idx+1:], nil
}

// ParseUnder normalizes raw and requires it to sit exactly one label below tld.
func ParseUnder(raw, tld string) (name, label string, err error) {
	name, err = Normalize(raw)
	if err != nil {
		return "", "", err
	}
	label, suffix, err := Split(name)
	if err != nil {
		return "", "", err
	}
	if suffix != strings.ToLower(tld) {
		return "", "", ErrNotSecondLevel
	}
	return name, label, nil
}
