package auth

import (
	"net/url"
)

// CookieSettings contains cookie security settings derived from base URL.
type CookieSettings struct {
	// Secure indicates whether the cookie should only be sent over HTTPS.
	Secure bool
	// Domain is the cookie domain scope; empty means host-only.
	Domain string
}

// DeriveCookieSettings determines cookie settings from the service base URL.
// Plain-HTTP localhost gets an insecure host-only cookie; anything else is
// Secure. An explicit domain overrides the host-only default.
func DeriveCookieSettings(baseURL string, configCookieDomain string) CookieSettings {
	parsedURL, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return CookieSettings{Secure: true, Domain: configCookieDomain}
	}

	return CookieSettings{
		Secure: parsedURL.Scheme != "http",
		Domain: configCookieDomain,
	}
}
