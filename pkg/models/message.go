package models

import (
	"encoding/json"
	"fmt"
)

// Message kinds accepted from a client page.
const (
	MessageSkipWaiting = "skip_waiting"
	MessageGetVersion  = "get_version"
)

// Message is a tagged client command. Unknown kinds are rejected at the
// boundary before dispatch.
type Message struct {
	Kind string `json:"kind"`
}

// MessageReply answers a client command over the reply channel.
type MessageReply struct {
	Kind    string `json:"kind"`
	Version string `json:"version,omitempty"`
}

// ParseMessage decodes and validates a client message.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	switch m.Kind {
	case MessageSkipWaiting, MessageGetVersion:
		return m, nil
	case "":
		return Message{}, fmt.Errorf("message missing kind")
	default:
		return Message{}, fmt.Errorf("unknown message kind %q", m.Kind)
	}
}

// Notification is the payload carried by a push event.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// ParseNotification decodes a push payload, defaulting missing fields so a
// malformed payload still produces a displayable notification.
func ParseNotification(data []byte) Notification {
	n := Notification{Title: "MealMate", Body: "You have a new update."}
	if len(data) == 0 {
		return n
	}
	var p Notification
	if err := json.Unmarshal(data, &p); err != nil {
		return n
	}
	if p.Title != "" {
		n.Title = p.Title
	}
	if p.Body != "" {
		n.Body = p.Body
	}
	n.URL = p.URL
	return n
}
