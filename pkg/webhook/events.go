package webhook

import (
	"encoding/json"
	"fmt"
)

// Payload is the envelope the messenger channel posts: one delivery may
// batch events for several pages, each with several messaging entries.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the events for one page address.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

// Messaging is one event for a page. Only message events carry a Message;
// delivery receipts and read receipts arrive in the same array and are
// skipped.
type Messaging struct {
	Sender    Party            `json:"sender"`
	Recipient Party            `json:"recipient"`
	Timestamp int64            `json:"timestamp"`
	Message   *MessagePayload  `json:"message,omitempty"`
	Delivery  *json.RawMessage `json:"delivery,omitempty"`
	Read      *json.RawMessage `json:"read,omitempty"`
}

// Party identifies a sender or recipient by the channel's scoped id.
type Party struct {
	ID string `json:"id"`
}

// MessagePayload is the message body of a messaging event.
type MessagePayload struct {
	MID  string `json:"mid"`
	Text string `json:"text"`
	// IsEcho marks copies of our own outbound sends reflected back by the
	// channel. Ingesting them would double every outbound message.
	IsEcho bool `json:"is_echo,omitempty"`
}

// InboundMessage is one parsed, ingestable message from a delivery.
type InboundMessage struct {
	// PageID is the receiving page address, used to route the message to
	// an integration.
	PageID            string
	SenderID          string
	ExternalMessageID string
	Text              string
}

// ParsePayload decodes a verified delivery body and flattens it to the
// inbound messages it carries. Non-message events and echoes are dropped.
func ParsePayload(body []byte) ([]InboundMessage, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	if payload.Object != "page" {
		return nil, fmt.Errorf("unsupported webhook object: %q", payload.Object)
	}

	var messages []InboundMessage
	for _, entry := range payload.Entry {
		for _, event := range entry.Messaging {
			if event.Message == nil || event.Message.IsEcho {
				continue
			}
			if event.Sender.ID == "" || event.Message.MID == "" {
				continue
			}
			messages = append(messages, InboundMessage{
				PageID:            entry.ID,
				SenderID:          event.Sender.ID,
				ExternalMessageID: event.Message.MID,
				Text:              event.Message.Text,
			})
		}
	}
	return messages, nil
}
