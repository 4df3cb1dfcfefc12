package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// ChannelURLValidator checks the base and feed URLs of configured channels.
type ChannelURLValidator struct {
	// AllowPrivateHosts permits localhost and private IP addresses
	AllowPrivateHosts bool
	// MaxLength is the maximum allowed URL length
	MaxLength int
}

// NewChannelURLValidator creates a validator that rejects private hosts.
func NewChannelURLValidator() *ChannelURLValidator {
	return &ChannelURLValidator{
		AllowPrivateHosts: false,
		MaxLength:         2048,
	}
}

// NewPermissiveChannelURLValidator allows local development hosts.
func NewPermissiveChannelURLValidator() *ChannelURLValidator {
	return &ChannelURLValidator{
		AllowPrivateHosts: true,
		MaxLength:         2048,
	}
}

// ValidateFeedURL validates a feed URL and returns its normalized form.
func (v *ChannelURLValidator) ValidateFeedURL(input string) (string, error) {
	u, err := v.parse(input)
	if err != nil {
		return "", err
	}
	if strings.Contains(u.Path, "..") {
		return "", fmt.Errorf("directory traversal patterns not allowed in URL path")
	}
	return u.String(), nil
}

// ValidateBaseURL validates a channel base URL. The result always ends
// with a slash so relative media references resolve against the site root.
func (v *ChannelURLValidator) ValidateBaseURL(input string) (string, error) {
	u, err := v.parse(input)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

func (v *ChannelURLValidator) parse(input string) (*url.URL, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}
	if len(input) > v.MaxLength {
		return nil, fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(input, "<>\"'` ") {
		return nil, fmt.Errorf("URL contains invalid characters")
	}

	// Default to HTTPS when the scheme is missing
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		input = "https://" + input
	}

	u, err := url.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("URL must have a valid hostname")
	}

	if !v.AllowPrivateHosts {
		host := u.Hostname()
		if isLocalhost(host) {
			return nil, fmt.Errorf("localhost URLs are not permitted")
		}
		if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
			return nil, fmt.Errorf("private IP addresses are not permitted")
		}
	}

	return u, nil
}

var absoluteHTTP = regexp.MustCompile(`^https?://[^\s/?#]+([/?#]\S*)?$`)

// IsAbsoluteHTTPURL reports whether s is a well-formed absolute http(s) URL.
func IsAbsoluteHTTPURL(s string) bool {
	if !absoluteHTTP.MatchString(s) {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Hostname() != ""
}

func isLocalhost(hostname string) bool {
	return hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".localhost")
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}
