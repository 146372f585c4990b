package event

// Payload is the subset of a GitHub webhook payload the router consumes.
type Payload struct {
	// Action is the event action, e.g. "opened" or "created".
	Action string `json:"action"`

	// Issue is present on issues and issue_comment events.
	Issue *Issue `json:"issue,omitempty"`

	// Comment is present on issue_comment events.
	Comment *Comment `json:"comment,omitempty"`

	// Sender is the account that triggered the event.
	Sender *User `json:"sender,omitempty"`
}

// Issue is the originating issue of a webhook event.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Comment is an issue comment body.
type Comment struct {
	Body string `json:"body"`
	User *User  `json:"user,omitempty"`
}

// User is a GitHub account reference.
type User struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}
