// Package tracker is the client for the issue-tracking API: it normalizes
// tracked links into API resource paths and resolves them to raw issue
// records.
package tracker

import "strings"

// PublicHost is the web host prefix that tracked links carry when they point
// at the code-hosting site.
const PublicHost = "https://github.com/"

// StripURL removes the public web-host prefix from a tracked link, leaving
// the path that addresses the API's resource endpoint. Inputs that do not
// start with a known prefix are returned unchanged: future click sources may
// use different conventions, and an unrecognized label should fail at
// resolution time rather than here.
func StripURL(link string) string {
	return strings.TrimPrefix(link, PublicHost)
}
