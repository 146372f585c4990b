package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/issueops/dispatchd/pkg/workflow"
)

// Supported event type header values.
const (
	EventIssues       = "issues"
	EventIssueComment = "issue_comment"
)

// Classification is the accepted result of classifying a webhook delivery:
// the originating issue plus exactly one free-text field to route on.
type Classification struct {
	// Event is the webhook event type ("issues" or "issue_comment").
	Event string

	// Action is the event action ("opened" or "created").
	Action string

	// IssueNumber is the originating issue.
	IssueNumber int

	// IssueTitle is the issue title, used for branch slug derivation.
	IssueTitle string

	// Text is the extracted free text: the issue body for issues events,
	// the comment body for issue_comment events.
	Text string
}

// Classifier accepts or rejects raw webhook payloads and guards against the
// router reacting to its own status comments.
type Classifier struct {
	markers []string
}

// NewClassifier creates a classifier that ignores any content carrying one
// of the given bot-identity markers.
func NewClassifier(markers ...string) *Classifier {
	return &Classifier{markers: markers}
}

// Classify validates the event type and action, extracts the free-text
// field, and applies the bot-loop guard. It returns an IgnoredEvent
// RouterError for anything the router must not react to; such results carry
// no side effects.
func (c *Classifier) Classify(eventType string, body []byte) (*Classification, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var text string
	switch eventType {
	case EventIssues:
		if payload.Action != "opened" {
			return nil, workflow.NewIgnoredEvent(fmt.Sprintf("unsupported action %q for issues event", payload.Action))
		}
		if payload.Issue == nil {
			return nil, fmt.Errorf("issues event without issue")
		}
		text = payload.Issue.Body
	case EventIssueComment:
		if payload.Action != "created" {
			return nil, workflow.NewIgnoredEvent(fmt.Sprintf("unsupported action %q for issue_comment event", payload.Action))
		}
		if payload.Issue == nil || payload.Comment == nil {
			return nil, fmt.Errorf("issue_comment event without issue or comment")
		}
		text = payload.Comment.Body
	default:
		return nil, workflow.NewIgnoredEvent(fmt.Sprintf("unsupported event %q", eventType))
	}

	// Bot-loop guard: the sole mechanism preventing the router from
	// reacting to its own status comments. Reporter output always starts
	// with a family marker; any text containing one is ours.
	for _, marker := range c.markers {
		if marker != "" && strings.Contains(text, marker) {
			return nil, workflow.NewIgnoredEvent("bot marker present")
		}
	}

	return &Classification{
		Event:       eventType,
		Action:      payload.Action,
		IssueNumber: payload.Issue.Number,
		IssueTitle:  payload.Issue.Title,
		Text:        text,
	}, nil
}
