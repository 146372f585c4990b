// Package report posts workflow feedback to GitHub issues via the gh CLI.
//
// All comments are prefixed with the owning family's bot marker so the
// router's own output never triggers another dispatch when it arrives back
// as an issue_comment webhook.
package report
