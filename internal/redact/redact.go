// Package redact masks secrets that ride along in URLs before they are
// written to the audit log.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

// Mask replaces a redacted value.
const Mask = "***"

// DefaultSecretKeys are query parameter names whose values are masked.
// Matching is case-insensitive and ignores '-' and '_'.
var DefaultSecretKeys = []string{
	"password", "passwd", "pwd", "secret", "token", "accesstoken",
	"refreshtoken", "idtoken", "apikey", "key", "auth", "code",
	"session", "sessionid", "sid", "signature", "sig", "email",
}

var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// URL masks userinfo, secret-looking query values and email addresses in
// the path and fragment. Unparseable input is returned with emails masked.
func URL(raw string) string {
	return URLWith(raw, DefaultSecretKeys)
}

// URLWith is URL with a custom key list.
func URLWith(raw string, keys []string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return emailRe.ReplaceAllString(raw, Mask)
	}

	if u.User != nil {
		u.User = url.User(Mask)
	}

	if u.RawQuery != "" {
		keySet := make(map[string]bool, len(keys))
		for _, k := range keys {
			keySet[normalizeKey(k)] = true
		}
		q := u.Query()
		changed := false
		for k, vs := range q {
			if !keySet[normalizeKey(k)] {
				continue
			}
			for i := range vs {
				vs[i] = Mask
			}
			changed = true
		}
		if changed {
			u.RawQuery = q.Encode()
		}
	}

	if emailRe.MatchString(u.Path) {
		u.Path = emailRe.ReplaceAllString(u.Path, Mask)
		u.RawPath = ""
	}
	if emailRe.MatchString(u.Fragment) {
		u.Fragment = emailRe.ReplaceAllString(u.Fragment, Mask)
		u.RawFragment = ""
	}
	return u.String()
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("-", "", "_", "").Replace(k)
}
