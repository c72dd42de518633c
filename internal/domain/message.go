package domain

import "strings"

// MessageKind is the msgtype of an outbound notification.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVoice MessageKind = "voice"
	KindVideo MessageKind = "video"
	KindFile  MessageKind = "file"
)

// NeedsMedia reports whether the kind references an uploaded media object.
func (k MessageKind) NeedsMedia() bool {
	switch k {
	case KindImage, KindVoice, KindVideo, KindFile:
		return true
	}
	return false
}

// OutboundMessage is a single notification to be delivered through the
// messaging API. ToUser, ToParty and ToTag are independent recipient
// selectors; any combination may be set.
type OutboundMessage struct {
	Kind    MessageKind
	ToUser  []string
	ToParty []string
	ToTag   []string
	Content string // text only
	MediaID string // image | voice | video | file

	// Video only. Empty values fall back to the dispatcher defaults.
	Title       string
	Description string
}

// JoinRecipients renders a selector list the way the platform expects it.
func JoinRecipients(ids []string) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return strings.Join(out, "|")
}
