// Package workflow defines the phase catalogs and the routing pipeline
// pieces that turn free text into a validated dispatch tuple.
//
// Two families exist, app and infra, each with its own ordered token
// catalog, instance id shape, and bot marker. The Detector scans the infra
// catalog before the app catalog: when both families' tokens appear in the
// same text, infra wins. Within a catalog, tokens match longest-first as
// whole words, so a short token never false-matches inside a longer
// compound token (infra-build-workflow vs infra-build-ami-workflow).
//
// The Resolver extracts an optional instance id and model override from the
// same text; the Validator enforces that dependent phases name an existing
// non-archived instance. Routing failures are classified RouterError values:
// IgnoredEvent and NoWorkflowDetected are silent, ValidationError and
// DispatchFailure are reported to the originating issue.
package workflow
