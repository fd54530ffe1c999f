// Package channel provides the messaging platform abstraction. It defines the
// inbound and outbound message types, the adapter interfaces, and the Manager
// that connects an adapter and dispatches inbound messages in per-user order.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "telegram").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string
	DisplayName string
	Attributes  map[string]string
}

// Attribute returns the trimmed value for the given key, or empty string if absent.
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVoice AttachmentType = "voice"
	AttachmentFile  AttachmentType = "file"
)

// Attachment represents a binary file attached to an inbound message.
type Attachment struct {
	Type AttachmentType
	// PlatformKey is the platform's download reference (Telegram file_id).
	PlatformKey string
	// UniqueID is stable across bots and re-uploads of the same file.
	UniqueID   string
	URL        string
	Name       string
	Mime       string
	Size       int64
	DurationMs int64
	Width      int
	Height     int
	Caption    string
}

// Reference returns the strongest available attachment reference.
func (a Attachment) Reference() string {
	if strings.TrimSpace(a.PlatformKey) != "" {
		return strings.TrimSpace(a.PlatformKey)
	}
	return strings.TrimSpace(a.URL)
}

// HasReference reports whether a platform key or URL is available.
func (a Attachment) HasReference() bool {
	return a.Reference() != ""
}

// StableID returns the identifier used to derive storage keys.
func (a Attachment) StableID() string {
	if id := strings.TrimSpace(a.UniqueID); id != "" {
		return id
	}
	return a.Reference()
}

// IsImage reports whether the attachment carries an image, including image
// files sent as documents.
func (a Attachment) IsImage() bool {
	if a.Type == AttachmentImage {
		return true
	}
	return a.Type == AttachmentFile && strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Mime)), "image/")
}

// InboundMessage is a message received from an external channel.
type InboundMessage struct {
	Channel ChannelType
	ID      string
	// ChatID is where replies go.
	ChatID      string
	ChatType    string
	Sender      Identity
	Text        string
	Command     string
	CommandArgs string
	Attachments []Attachment
	ReceivedAt  time.Time
}

// UserKey identifies the end user owning the conversation. Falls back to the
// chat when the platform hides the sender.
func (m InboundMessage) UserKey() string {
	if id := strings.TrimSpace(m.Sender.SubjectID); id != "" {
		return id
	}
	return strings.TrimSpace(m.ChatID)
}

// IsCommand reports whether the message is a bot command such as /start.
func (m InboundMessage) IsCommand() bool {
	return strings.TrimSpace(m.Command) != ""
}

// Caption returns the caption of the first attachment that has one.
func (m InboundMessage) Caption() string {
	for _, att := range m.Attachments {
		if c := strings.TrimSpace(att.Caption); c != "" {
			return c
		}
	}
	return ""
}

// VoiceNote is synthesized audio sent as a platform voice message.
type VoiceNote struct {
	Data    []byte
	Name    string
	Caption string
}

// OutboundMessage pairs a delivery target with the message content.
type OutboundMessage struct {
	Target  string
	Text    string
	Voice   *VoiceNote
	ReplyTo string
}

// IsEmpty reports whether the message carries no content.
func (m OutboundMessage) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && (m.Voice == nil || len(m.Voice.Data) == 0)
}

// ChannelConfig holds the credentials for one bot connection.
type ChannelConfig struct {
	ID          string
	ChannelType ChannelType
	Credentials map[string]any
}
