package domaincheck

import (
	"fmt"
	"strings"
)

// Normalize reduces a raw URL or host string to a bare registrable-looking
// domain: scheme, path, query, port and a leading "www." are stripped and the
// result is lower-cased. Returns an error when what remains does not look
// like a domain.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return "", fmt.Errorf("empty domain")
	}

	// Strip scheme
	if idx := strings.Index(s, "://"); idx != -1 {
		s = s[idx+3:]
	}

	// Strip userinfo
	if idx := strings.Index(s, "@"); idx != -1 {
		s = s[idx+1:]
	}

	// Strip path, query, fragment
	for _, sep := range []string{"/", "?", "#"} {
		if idx := strings.Index(s, sep); idx != -1 {
			s = s[:idx]
		}
	}

	// Strip port
	if idx := strings.LastIndex(s, ":"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, ".")

	if err := validate(s); err != nil {
		return "", err
	}
	return s, nil
}

// validate applies basic domain syntax rules: dot-separated labels of
// letters, digits and hyphens, no label edge hyphens, alphabetic TLD of at
// least two characters.
func validate(domain string) error {
	if len(domain) == 0 || len(domain) > 253 {
		return fmt.Errorf("invalid domain length")
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return fmt.Errorf("domain %q has no TLD", domain)
	}

	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return fmt.Errorf("domain %q has an invalid label", domain)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("domain %q has a hyphen-edged label", domain)
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return fmt.Errorf("domain %q contains invalid character %q", domain, r)
			}
		}
	}

	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return fmt.Errorf("domain %q has a too-short TLD", domain)
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return fmt.Errorf("domain %q has a non-alphabetic TLD", domain)
		}
	}

	return nil
}
