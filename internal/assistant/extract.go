package assistant

import "strings"

// NoReplyText is sent when the conversation holds no assistant turn.
const NoReplyText = "El asistente no generó una respuesta."

// LatestReply returns the text segments of the most recent assistant turn.
// A turn is every assistant message sharing the maximum CreatedAt, in list
// order, since the provider does not guarantee history ordering. The bool is
// false when no assistant text exists.
func LatestReply(messages []Message) ([]string, bool) {
	var (
		latest int64
		found  bool
	)
	for _, msg := range messages {
		if msg.Role != RoleAssistant {
			continue
		}
		if !found || msg.CreatedAt > latest {
			latest = msg.CreatedAt
			found = true
		}
	}
	if !found {
		return nil, false
	}

	segments := make([]string, 0, 2)
	for _, msg := range messages {
		if msg.Role != RoleAssistant || msg.CreatedAt != latest {
			continue
		}
		for _, seg := range msg.Segments {
			if strings.TrimSpace(seg) == "" {
				continue
			}
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return nil, false
	}
	return segments, true
}
