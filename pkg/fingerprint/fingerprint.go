// Package fingerprint derives account-scoped device identifiers and coarse
// client classification from a User-Agent header.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const Unknown = "Unknown"

var versionPattern = regexp.MustCompile(`\d+(\.\d+)*`)

// Normalize collapses every version number run to "*".
func Normalize(userAgent string) string {
	return versionPattern.ReplaceAllString(strings.TrimSpace(userAgent), "*")
}

// Fingerprint returns a 64 character hex identifier that is stable across
// browser/OS version bumps and distinct per account.
func Fingerprint(userAgent, accountID string) string {
	sum := sha256.Sum256([]byte(Normalize(userAgent) + "|" + accountID))
	return hex.EncodeToString(sum[:])
}

type ClientInfo struct {
	Platform string
	Browser  string
}

// Parse classifies the platform and browser. Order matters: mobile UAs embed
// desktop tokens ("Android ... Linux", "iPhone ... like Mac OS X") and
// Chromium UAs embed "Safari".
func Parse(userAgent string) ClientInfo {
	return ClientInfo{
		Platform: parsePlatform(userAgent),
		Browser:  parseBrowser(userAgent),
	}
}

func parsePlatform(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "iPod"):
		return "iOS"
	case strings.Contains(ua, "Macintosh"), strings.Contains(ua, "Mac OS X"):
		return "macOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return Unknown
}

func parseBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Edg"):
		return "Edge"
	case strings.Contains(ua, "Chrome") || strings.Contains(ua, "CriOS"):
		return "Chrome"
	case strings.Contains(ua, "Firefox") || strings.Contains(ua, "FxiOS"):
		return "Firefox"
	case strings.Contains(ua, "Safari") && !strings.Contains(ua, "Chromium"):
		return "Safari"
	}
	return Unknown
}

// DeviceName renders a label such as "Chrome on Windows".
func DeviceName(info ClientInfo) string {
	if info.Browser == Unknown && info.Platform == Unknown {
		return "Unknown device"
	}
	return info.Browser + " on " + info.Platform
}
