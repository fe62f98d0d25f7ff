package safety

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

const (
	// MaxWebhookPayload is the largest delivery GitHub sends (25 MB).
	MaxWebhookPayload int64 = 25 << 20

	// MaxAPIResponse bounds one REST or GraphQL response body. Contents
	// responses carry base64 file bodies, so it sits above the 25 MB
	// GitHub serves through the contents API.
	MaxAPIResponse int64 = 32 << 20
)

// ErrBodyTooLarge is returned once a webhook or API body passes its limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// ReadAllWithLimit reads at most limit bytes from r. One byte more fails
// with an error wrapping ErrBodyTooLarge.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("read limit must be positive, got %d", limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// ValidateInstanceURL checks the base URL of a GitHub or Gerrit instance.
// API paths are joined below it, so it must be plain http(s) without
// credentials, query or fragment.
func ValidateInstanceURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("instance url %q does not parse: %w", raw, err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return nil, fmt.Errorf("instance url %q must use http or https, not %q", raw, u.Scheme)
	case u.Host == "":
		return nil, fmt.Errorf("instance url %q has no host", raw)
	case u.User != nil:
		return nil, fmt.Errorf("instance url %q must not carry credentials", u.Redacted())
	case u.RawQuery != "" || u.Fragment != "":
		return nil, fmt.Errorf("instance url %q must not have a query or fragment", raw)
	}
	return u, nil
}

// IsLocalEndpoint reports whether u points at this machine, where an
// unencrypted event stream does not leave the host.
func IsLocalEndpoint(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
