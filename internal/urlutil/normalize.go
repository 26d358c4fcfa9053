package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Suffixes operators commonly paste along with the base URL. They are stripped
// so a configured value of "https://api.example.com/v1/chat/completions" and
// "https://api.example.com" dispatch to the same endpoint.
var strippedSuffixes = []string{"/v1/chat/completions", "/v1/models", "/v1"}

// NormalizeBase validates and normalizes a configured API base URL:
// trailing slashes and well-known OpenAI path suffixes are removed, and the
// scheme and host are lowercased. The result carries no trailing slash.
// Returns an error if the value is not an absolute HTTP/HTTPS URL.
func NormalizeBase(rawURL string) (string, error) {
	raw := strings.TrimRight(strings.TrimSpace(rawURL), "/")

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("base url must be an absolute http or https url")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	for _, suffix := range strippedSuffixes {
		if strings.HasSuffix(strings.ToLower(u.Path), suffix) {
			u.Path = u.Path[:len(u.Path)-len(suffix)]
			break
		}
	}
	u.Path = strings.TrimRight(u.Path, "/")

	return u.String(), nil
}

// Endpoint joins a normalized base URL with an API path, avoiding duplicate
// or missing separators.
func Endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
