package report

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cli/go-gh/v2"
	"github.com/rs/zerolog"
)

// execFunc runs a gh CLI invocation and returns stdout and stderr. It is a
// variable so tests can intercept the call.
type execFunc func(ctx context.Context, args ...string) (bytes.Buffer, bytes.Buffer, error)

// Reporter posts workflow feedback to GitHub issues through the gh CLI.
// Every comment it writes carries the family's bot marker so the webhook
// classifier can recognize and ignore the router's own output.
type Reporter struct {
	repo   string
	logger zerolog.Logger
	exec   execFunc

	// The marker set follows config reloads; a comment written with a
	// retired marker would re-enter the router as a fresh event.
	mu      sync.RWMutex
	markers map[string]string
}

// NewReporter creates a reporter for the given owner/name repository.
// markers maps a family name to the marker prefixed to every comment.
func NewReporter(logger zerolog.Logger, repo string, markers map[string]string) *Reporter {
	return &Reporter{
		repo:    repo,
		markers: markers,
		logger:  logger.With().Str("component", "reporter").Logger(),
		exec:    gh.ExecContext,
	}
}

// UpdateMarkers swaps the marker set after a config reload. Subsequent
// comments carry the new markers.
func (r *Reporter) UpdateMarkers(markers map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers = markers
}

func (r *Reporter) marker(family string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	marker, ok := r.markers[family]
	return marker, ok
}

// Comment posts a bot-marked comment on the given issue. The family selects
// the marker; an unknown family is an error rather than an unmarked comment,
// since an unmarked comment would re-enter the router as a new event.
func (r *Reporter) Comment(ctx context.Context, family string, issueNumber int, body string) error {
	marker, ok := r.marker(family)
	if !ok {
		return fmt.Errorf("no bot marker configured for family %q", family)
	}

	marked := marker + " " + strings.TrimSpace(body)

	_, stderr, err := r.exec(ctx,
		"issue", "comment", strconv.Itoa(issueNumber),
		"--repo", r.repo,
		"--body", marked,
	)
	if err != nil {
		return fmt.Errorf("failed to comment on issue #%d: %w (stderr: %s)", issueNumber, err, strings.TrimSpace(stderr.String()))
	}

	r.logger.Debug().
		Str("family", family).
		Int("issue", issueNumber).
		Msg("Posted issue comment")

	return nil
}

// Rejection posts a validation-failure comment with remediation guidance.
func (r *Reporter) Rejection(ctx context.Context, family string, issueNumber int, reason, remediation string) error {
	body := fmt.Sprintf("**Request rejected**: %s\n\n%s", reason, remediation)
	return r.Comment(ctx, family, issueNumber, body)
}

// PhaseStarted announces that a phase has begun running for an instance.
func (r *Reporter) PhaseStarted(ctx context.Context, family string, issueNumber int, phase, instanceID string) error {
	body := fmt.Sprintf("**%s** started for instance `%s`.", phase, instanceID)
	return r.Comment(ctx, family, issueNumber, body)
}

// PhaseCompleted announces the terminal status of a phase run.
func (r *Reporter) PhaseCompleted(ctx context.Context, family string, issueNumber int, phase, instanceID string, runErr error) error {
	var body string
	if runErr != nil {
		body = fmt.Sprintf("**%s** failed for instance `%s`:\n\n```\n%s\n```", phase, instanceID, runErr.Error())
	} else {
		body = fmt.Sprintf("**%s** completed for instance `%s`.", phase, instanceID)
	}
	return r.Comment(ctx, family, issueNumber, body)
}
