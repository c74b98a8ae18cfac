package core

import (
	"fmt"
	"regexp"
)

var (
	osPattern       = regexp.MustCompile(`\(([^)]+)\)`)
	browserPattern  = regexp.MustCompile(`(?:Chrome|Firefox|Safari|Edge|Opera)/(\d+\.\d+)`)
	platformPattern = regexp.MustCompile(`Mobile|Android|iP(ad|hone)`)
)

// DisplayName turns a raw User-Agent header into "OS - Browser - Platform".
func DisplayName(userAgent string) string {
	os := "Unknown OS"
	if m := osPattern.FindStringSubmatch(userAgent); m != nil {
		os = m[1]
	}

	browser := "Unknown Browser"
	if m := browserPattern.FindString(userAgent); m != "" {
		browser = m
	}

	platform := "Desktop"
	if platformPattern.MatchString(userAgent) {
		platform = "Mobile"
	}

	return fmt.Sprintf("%s - %s - %s", os, browser, platform)
}
