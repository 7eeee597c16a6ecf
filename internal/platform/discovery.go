package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// MinPloneVersion is the oldest target release the replay views support.
const MinPloneVersion = "5.2"

// SystemInfo holds the parsed @system response of a site.
type SystemInfo struct {
	PloneVersion   string `json:"plone_version"`
	RestAPIVersion string `json:"plone_restapi_version"`
	ZopeVersion    string `json:"zope_version"`
	PythonVersion  string `json:"python_version"`
}

// ParseSystemInfo parses an @system JSON response body.
func ParseSystemInfo(body []byte) (*SystemInfo, error) {
	var info SystemInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing system response: %w", err)
	}
	if info.PloneVersion == "" {
		return nil, fmt.Errorf("system response missing plone_version field")
	}
	return &info, nil
}

// Discover asks an existing site for its software versions.
func (s *Site) Discover(ctx context.Context) (*SystemInfo, error) {
	resp, err := s.call(ctx, "discover", http.MethodGet, s.path("", "@system"), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return ParseSystemInfo(resp.Body)
}

// CompareVersions performs a simple dotted version comparison.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
// Handles partial versions (e.g. "5.2" vs "5.2.4") and suffixes ("6.0.0a1").
func CompareVersions(a, b string) int {
	aParts := parseVersionParts(a)
	bParts := parseVersionParts(b)

	maxLen := len(aParts)
	if len(bParts) > maxLen {
		maxLen = len(bParts)
	}

	for i := 0; i < maxLen; i++ {
		var av, bv int
		if i < len(aParts) {
			av = aParts[i]
		}
		if i < len(bParts) {
			bv = bParts[i]
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// VersionAtLeast returns true if version >= min.
func VersionAtLeast(version, min string) bool {
	if version == "" || min == "" {
		return true
	}
	return CompareVersions(version, min) >= 0
}

func parseVersionParts(v string) []int {
	parts := strings.Split(v, ".")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		n, err := strconv.Atoi(p[:end])
		if err != nil {
			break
		}
		result = append(result, n)
		if end < len(p) {
			break
		}
	}
	return result
}
