// Package taskid derives task identities from source locators.
//
// Drive folder URLs embed a long opaque resource identifier; using it as the
// task id makes resubmission of the same URL idempotent. Locators without a
// recognizable identifier fall back to a generated unique token.
package taskid

import (
	"regexp"

	"github.com/google/uuid"
)

// resourceToken matches the first embedded resource identifier: an
// alphanumeric/-/_ run of at least 20 characters.
var resourceToken = regexp.MustCompile(`[A-Za-z0-9_-]{20,}`)

// Derive returns the deterministic id embedded in the locator, or a freshly
// generated token when none is present.
func Derive(locator string) string {
	if tok := resourceToken.FindString(locator); tok != "" {
		return tok
	}
	return uuid.NewString()
}

// ResourceID returns the embedded resource identifier and whether one was
// found. The supervisor passes this to the external tool instead of the raw
// URL when available.
func ResourceID(locator string) (string, bool) {
	tok := resourceToken.FindString(locator)
	return tok, tok != ""
}
