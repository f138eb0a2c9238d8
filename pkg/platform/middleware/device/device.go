// Package device summarizes the capture device behind a request from its
// User-Agent. The summary is stored with verification artifacts to help
// reviewers spot replayed or emulator-originated captures.
package device

import (
	"context"
	"strings"

	"github.com/mssola/useragent"

	"kycflow/pkg/requestcontext"
)

// Describe turns a User-Agent string into a short human-readable summary
// such as "Chrome 120.0 on Android 14 (mobile)". Empty input yields "".
func Describe(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ""
	}
	ua := useragent.New(userAgent)

	var parts []string
	if name, version := ua.Browser(); name != "" {
		parts = append(parts, strings.TrimSpace(name+" "+version))
	}
	if os := ua.OS(); os != "" {
		parts = append(parts, "on "+os)
	}
	if ua.Bot() {
		parts = append(parts, "(bot)")
	} else if ua.Mobile() {
		parts = append(parts, "(mobile)")
	}
	if len(parts) == 0 {
		return userAgent
	}
	return strings.Join(parts, " ")
}

// FromContext describes the User-Agent recorded on ctx by the metadata
// middleware.
func FromContext(ctx context.Context) string {
	return Describe(requestcontext.UserAgent(ctx))
}
