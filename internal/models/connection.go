package models

import (
	"strings"
)

// Connection describes the target content site the migration replays into.
type Connection struct {
	URL      string `json:"url"`
	SiteID   string `json:"site_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Insecure bool   `json:"insecure"` // skip TLS verification
	CACert   string `json:"-"`
}

// BaseURL returns the server URL without a trailing slash.
func (c *Connection) BaseURL() string {
	return strings.TrimRight(c.URL, "/")
}

// SiteURL returns the URL of the target site root.
func (c *Connection) SiteURL() string {
	return c.BaseURL() + "/" + c.SiteID
}

// MaskedPassword returns a fixed mask for display, or "" if no password is set.
func (c *Connection) MaskedPassword() string {
	if c.Password == "" {
		return ""
	}
	return "••••••••"
}
