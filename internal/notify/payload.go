package notify

import (
	"strconv"

	"cowechat/internal/domain"
)

const (
	DefaultVideoTitle       = "Title"
	DefaultVideoDescription = "Description"
)

// buildPayload turns msg into the JSON body of the message endpoint.
func (c *Client) buildPayload(msg domain.OutboundMessage) (map[string]any, error) {
	if msg.Kind == "" {
		return nil, ErrMissingKind
	}

	payload := map[string]any{
		"touser":  domain.JoinRecipients(msg.ToUser),
		"toparty": domain.JoinRecipients(msg.ToParty),
		"totag":   domain.JoinRecipients(msg.ToTag),
		"msgtype": string(msg.Kind),
		"agentid": agentID(c.identity.AgentID),
		"safe":    0,
	}

	if msg.Kind.NeedsMedia() && msg.MediaID == "" {
		return nil, &InputError{Kind: msg.Kind, Reason: "media_id is required"}
	}

	switch msg.Kind {
	case domain.KindText:
		payload["text"] = map[string]string{"content": msg.Content}
	case domain.KindImage, domain.KindVoice, domain.KindFile:
		payload[string(msg.Kind)] = map[string]string{"media_id": msg.MediaID}
	case domain.KindVideo:
		title, desc := msg.Title, msg.Description
		if title == "" {
			title = c.videoTitle
		}
		if desc == "" {
			desc = c.videoDescription
		}
		payload["video"] = map[string]string{
			"media_id":    msg.MediaID,
			"title":       title,
			"description": desc,
		}
	default:
		return nil, &InputError{Kind: msg.Kind, Reason: "unsupported message type"}
	}
	return payload, nil
}

// agentID converts the identity's agent id, already checked by
// Identity.Validate, to the JSON number the endpoint expects.
func agentID(id string) int64 {
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}
