// Package assistant talks to the hosted assistant service: conversations,
// runs, message history, speech-to-text and text-to-speech.
package assistant

import "strings"

// RunStatus is the provider-reported state of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether no further transition will occur.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	default:
		return false
	}
}

// Run is a handle to an asynchronous unit of work on a conversation.
type Run struct {
	ID             string
	ConversationID string
	Status         RunStatus
	ErrorCode      string
	ErrorMessage   string
}

// Content is the user turn submitted to a conversation. At least one of
// Text or ImageURL is set; an empty Text means no text part is sent.
type Content struct {
	Text     string
	ImageURL string
}

// TextContent builds text-only content.
func TextContent(text string) Content {
	return Content{Text: strings.TrimSpace(text)}
}

// ImageContent builds image content with an optional caption.
func ImageContent(url, caption string) Content {
	return Content{Text: strings.TrimSpace(caption), ImageURL: strings.TrimSpace(url)}
}

// IsEmpty reports whether there is nothing to submit.
func (c Content) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == "" && strings.TrimSpace(c.ImageURL) == ""
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation's history.
type Message struct {
	ID        string
	Role      Role
	CreatedAt int64
	// Segments holds the text blocks of the message in order.
	Segments []string
}
