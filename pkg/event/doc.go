// Package event classifies inbound GitHub webhook deliveries.
//
// Only issues:opened and issue_comment:created are processed; everything
// else yields an IgnoredEvent with no side effects. Exactly one free-text
// field is extracted per delivery (issue body or comment body). The
// bot-loop guard rejects any text containing a family bot marker, which is
// the mechanism that keeps the router from reacting to comments posted by
// its own reporter.
package event
