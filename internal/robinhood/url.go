package robinhood

import "net/url"

// genericPath extracts the path (plus query) portion of an absolute URL,
// used as a fallback in pathOf for instrument URLs that don't share this
// client's exact base URL string.
func genericPath(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.RawQuery != "" {
		return parsed.Path + "?" + parsed.RawQuery, nil
	}
	return parsed.Path, nil
}
