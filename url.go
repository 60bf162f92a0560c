package smooth

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// encodeLiveURL applies the viewer parameters to a live URL, replacing
// any values already present.
func encodeLiveURL(raw string, interactive, embed bool) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse live url: %w", err)
	}
	q := u.Query()
	q.Set("interactive", strconv.FormatBool(interactive))
	q.Set("embed", strconv.FormatBool(embed))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// proxyURLFromLive recovers the session's proxy endpoint from a live
// URL. The viewer URL carries the backend address url-safe
// base64-encoded in its "b" query parameter; the proxy listens on the
// matching browser-proxy host.
func proxyURLFromLive(liveURL string) (string, error) {
	u, err := url.Parse(liveURL)
	if err != nil {
		return "", fmt.Errorf("parse live url: %w", err)
	}
	b := u.Query().Get("b")
	if b == "" {
		return "", fmt.Errorf("live url carries no backend address")
	}
	if pad := len(b) % 4; pad != 0 {
		b += strings.Repeat("=", 4-pad)
	}
	decoded, err := base64.URLEncoding.DecodeString(b)
	if err != nil {
		return "", fmt.Errorf("decode backend address: %w", err)
	}
	addr := string(decoded)
	if i := strings.Index(addr, "https://"); i >= 0 {
		addr = addr[i+len("https://"):]
	}
	addr = strings.Replace(addr, "browser-live", "browser-proxy", 1)
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	return strings.Trim(addr, "/"), nil
}
