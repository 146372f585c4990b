package event

import (
	"fmt"
	"testing"

	"github.com/issueops/dispatchd/pkg/workflow"
)

const (
	appMarker   = "[APP-AGENTS]"
	infraMarker = "[INFRA-AGENTS]"
)

func issuePayload(action, title, body string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": %q,
		"issue": {"number": 42, "title": %q, "body": %q}
	}`, action, title, body))
}

func commentPayload(action, commentBody string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": %q,
		"issue": {"number": 42, "title": "Login is broken", "body": "original body"},
		"comment": {"body": %q, "user": {"login": "octocat", "type": "User"}}
	}`, action, commentBody))
}

func TestClassifyIssueOpened(t *testing.T) {
	classifier := NewClassifier(appMarker, infraMarker)

	cls, err := classifier.Classify(EventIssues, issuePayload("opened", "Login is broken", "app-plan-workflow please"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if cls.IssueNumber != 42 {
		t.Errorf("IssueNumber = %d, want 42", cls.IssueNumber)
	}
	if cls.Text != "app-plan-workflow please" {
		t.Errorf("Text = %q, want issue body", cls.Text)
	}
	if cls.IssueTitle != "Login is broken" {
		t.Errorf("IssueTitle = %q", cls.IssueTitle)
	}
}

func TestClassifyCommentCreated(t *testing.T) {
	classifier := NewClassifier(appMarker, infraMarker)

	cls, err := classifier.Classify(EventIssueComment, commentPayload("created", "app-build-workflow app-1a2b3c4d"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if cls.Text != "app-build-workflow app-1a2b3c4d" {
		t.Errorf("Text = %q, want comment body not issue body", cls.Text)
	}
}

func TestClassifyIgnoredEvents(t *testing.T) {
	classifier := NewClassifier(appMarker, infraMarker)

	tests := []struct {
		name      string
		eventType string
		body      []byte
	}{
		{name: "issue edited", eventType: EventIssues, body: issuePayload("edited", "t", "b")},
		{name: "issue closed", eventType: EventIssues, body: issuePayload("closed", "t", "b")},
		{name: "comment edited", eventType: EventIssueComment, body: commentPayload("edited", "b")},
		{name: "comment deleted", eventType: EventIssueComment, body: commentPayload("deleted", "b")},
		{name: "unsupported event", eventType: "pull_request", body: []byte(`{"action": "opened"}`)},
		{name: "push event", eventType: "push", body: []byte(`{}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classifier.Classify(tt.eventType, tt.body)
			if !workflow.IsIgnored(err) {
				t.Errorf("Classify() error = %v, want ignored event", err)
			}
		})
	}
}

// A comment carrying a bot marker is the router's own output echoed back.
func TestClassifyBotLoopGuard(t *testing.T) {
	classifier := NewClassifier(appMarker, infraMarker)

	tests := []struct {
		name string
		body string
	}{
		{name: "app marker", body: appMarker + " **plan** started for instance `app-1a2b3c4d`."},
		{name: "infra marker", body: infraMarker + " **Request rejected**: infra-ship-workflow requires an instance id"},
		{name: "marker mid text", body: "quoting " + appMarker + " output with app-build-workflow app-1a2b3c4d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classifier.Classify(EventIssueComment, commentPayload("created", tt.body))
			if !workflow.IsIgnored(err) {
				t.Errorf("Classify() error = %v, want ignored event", err)
			}
		})
	}
}

func TestClassifyMalformedPayload(t *testing.T) {
	classifier := NewClassifier(appMarker, infraMarker)

	_, err := classifier.Classify(EventIssues, []byte("{not json"))
	if err == nil {
		t.Fatal("Classify() = nil, want error")
	}
	if workflow.IsIgnored(err) {
		t.Error("malformed payload classified as ignored event")
	}
}
