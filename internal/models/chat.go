package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes user chat from synthesized notices.
type MessageType string

const (
	MessageText         MessageType = "text"
	MessageSystem       MessageType = "system"
	MessageNotification MessageType = "notification"
)

// Sender identifies who posted a chat message.
type Sender struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// Reaction is one participant's emoji on a message; at most one per participant.
type Reaction struct {
	ParticipantID string    `json:"participantId"`
	Emoji         string    `json:"emoji"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ChatMessage is a chat line. PollID nil means general chat; Room empty means every connection.
type ChatMessage struct {
	ID        uuid.UUID   `json:"id"`
	Text      string      `json:"text"`
	Sender    Sender      `json:"sender"`
	PollID    *uuid.UUID  `json:"pollId"`
	Room      string      `json:"room,omitempty"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
	IsDeleted bool        `json:"isDeleted"`
	EditedAt  *time.Time  `json:"editedAt,omitempty"`
	Reactions []Reaction  `json:"reactions"`
	Persisted bool        `json:"-"`
}

// SetReaction replaces any prior reaction by the same participant, then appends the new one.
func (m *ChatMessage) SetReaction(participantID, emoji string, at time.Time) {
	kept := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.ParticipantID != participantID {
			kept = append(kept, r)
		}
	}
	m.Reactions = append(kept, Reaction{ParticipantID: participantID, Emoji: emoji, CreatedAt: at})
}

// Clone returns a copy that does not share the reactions slice.
func (m *ChatMessage) Clone() ChatMessage {
	c := *m
	c.Reactions = append([]Reaction{}, m.Reactions...)
	if m.PollID != nil {
		id := *m.PollID
		c.PollID = &id
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	return c
}
