package validator

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

func Required(field, value string) Rule {
	return Rule{
		Check: func() bool { return strings.TrimSpace(value) != "" },
		Error: ValidationError{Field: field, Message: "is required"},
	}
}

func MaxLen(field, value string, max int) Rule {
	return Rule{
		Check: func() bool { return len(value) <= max },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", max)},
	}
}

var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-:.]+$`)

// Identifier accepts catalog and provider ids such as "plan-pro" or "price_123".
// Empty values pass; combine with Required.
func Identifier(field, value string) Rule {
	return Rule{
		Check: func() bool { return value == "" || identifierRegex.MatchString(value) },
		Error: ValidationError{Field: field, Message: "may contain only letters, digits and _-:."},
	}
}

// RedirectURL accepts an empty value or an absolute http(s) URL. With allowedHosts
// set, the host must be one of them.
func RedirectURL(field, value string, allowedHosts []string) Rule {
	return Rule{
		Check: func() bool {
			if value == "" {
				return true
			}
			u, err := url.Parse(value)
			if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
				return false
			}
			return len(allowedHosts) == 0 || slices.Contains(allowedHosts, u.Hostname())
		},
		Error: ValidationError{Field: field, Message: "must be an absolute URL on an allowed host"},
	}
}
