package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/models"
)

// Inbound event names.
const (
	InJoin          = "join"
	InJoinRoom      = "join_room"
	InSendMessage   = "send_message"
	InCreatePoll    = "create_poll"
	InVote          = "vote"
	InVotePoll      = "vote_poll" // alias kept for older clients
	InEndPoll       = "end_poll"
	InCancelPoll    = "cancel_poll"
	InKick          = "kick_participant"
	InChatHistory   = "get_chat_history"
	InDeleteMessage = "delete_message"
	InEditMessage   = "edit_message"
	InReactMessage  = "react_message"
)

// Outbound event names.
const (
	EventActiveUsers       = "active_users"
	EventSessionState      = "session_state"
	EventPollQueued        = "poll_queued"
	EventPollCreated       = "poll_created" // same payload as poll_started
	EventPollStarted       = "poll_started"
	EventVoteUpdate        = "vote_update"
	EventPollEnded         = "poll_ended"
	EventPollCancelled     = "poll_cancelled"
	EventNewMessage        = "new_message"
	EventMessageDeleted    = "message_deleted"
	EventMessageEdited     = "message_edited"
	EventMessageReaction   = "message_reaction"
	EventChatHistory       = "chat_history"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventUserJoinedRoom    = "user_joined_room"
	EventKickedOut         = "kicked_out"
	EventParticipantKicked = "participant_kicked"
	EventError             = "error"
)

// GeneralRoom is the room every joined connection is placed in.
const GeneralRoom = "general"

// PollQueuedPayload is sent when a poll enters the queue.
type PollQueuedPayload struct {
	PollID        uuid.UUID `json:"pollId"`
	Question      string    `json:"question"`
	QueuePosition int       `json:"queuePosition"`
	Message       string    `json:"message"`
}

// PollStartedPayload is sent when a poll becomes active.
type PollStartedPayload struct {
	PollID    uuid.UUID       `json:"pollId"`
	Question  string          `json:"question"`
	Options   []OptionPayload `json:"options"`
	Duration  int             `json:"duration"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
	CreatedBy string          `json:"createdBy"`
}

// OptionPayload is an option without its voter list.
type OptionPayload struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// VoteUpdatePayload is sent after each accepted vote.
type VoteUpdatePayload struct {
	PollID     uuid.UUID             `json:"pollId"`
	OptionID   int                   `json:"optionId"`
	Voter      string                `json:"voter"`
	TotalVotes int                   `json:"totalVotes"`
	Results    []models.OptionResult `json:"results"`
}

// PollEndedPayload carries final tallies.
type PollEndedPayload struct {
	PollID          uuid.UUID             `json:"pollId"`
	Results         []models.OptionResult `json:"results"`
	TotalVotes      int                   `json:"totalVotes"`
	CorrectOptionID *int                  `json:"correctOptionId,omitempty"`
	Reason          string                `json:"reason"` // "expired" or "ended"
}

// PollCancelledPayload is sent when a queued poll is withdrawn.
type PollCancelledPayload struct {
	PollID uuid.UUID `json:"pollId"`
}

// NewMessagePayload is a chat line as delivered to clients.
type NewMessagePayload struct {
	ID        uuid.UUID          `json:"id"`
	Text      string             `json:"text"`
	Sender    models.Sender      `json:"sender"`
	Timestamp time.Time          `json:"timestamp"`
	PollID    *uuid.UUID         `json:"pollId"`
	Room      string             `json:"room,omitempty"`
	Type      models.MessageType `json:"type"`
}

// MessageDeletedPayload announces a soft delete.
type MessageDeletedPayload struct {
	ID uuid.UUID `json:"id"`
}

// MessageEditedPayload announces an edit.
type MessageEditedPayload struct {
	ID       uuid.UUID `json:"id"`
	Text     string    `json:"text"`
	EditedAt time.Time `json:"editedAt"`
}

// MessageReactionPayload carries the full reaction list of a message.
type MessageReactionPayload struct {
	ID        uuid.UUID         `json:"id"`
	Reactions []models.Reaction `json:"reactions"`
}

// ChatHistoryPayload answers get_chat_history.
type ChatHistoryPayload struct {
	Messages []NewMessagePayload `json:"messages"`
	PollID   *uuid.UUID          `json:"pollId"`
}

// PresencePayload is sent for user_joined / user_left.
type PresencePayload struct {
	ParticipantID string      `json:"participantId"`
	DisplayName   string      `json:"displayName"`
	Role          models.Role `json:"role"`
	Timestamp     time.Time   `json:"timestamp"`
}

// RoomJoinedPayload is sent to a room when a participant joins it.
type RoomJoinedPayload struct {
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Room          string    `json:"room"`
	Timestamp     time.Time `json:"timestamp"`
}

// KickedOutPayload is unicast to a removed connection.
type KickedOutPayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ParticipantKickedPayload is broadcast after a kick.
type ParticipantKickedPayload struct {
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	KickedBy      string    `json:"kickedBy"`
	Timestamp     time.Time `json:"timestamp"`
}

// RosterEntry is one active_users row. Connection ids stay server side.
type RosterEntry struct {
	ID          string              `json:"id"`
	DisplayName string              `json:"displayName"`
	Role        models.Role         `json:"role"`
	Kind        models.IdentityKind `json:"kind"`
	JoinedAt    time.Time           `json:"joinedAt"`
}

// SessionStatePayload lets a (re)joining client resume the live view.
type SessionStatePayload struct {
	Participant      models.Participant    `json:"participant"`
	ActivePoll       *PollStartedPayload   `json:"activePoll"`
	Results          []models.OptionResult `json:"results,omitempty"`
	RemainingSeconds int                   `json:"remainingSeconds"`
	HasVoted         bool                  `json:"hasVoted"`
	QueueLength      int                   `json:"queueLength"`
}

// ErrorPayload is unicast to the requester on a rejected action.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Event   string `json:"event,omitempty"`
}

// NewPollStarted builds the poll_started payload from an active poll.
func NewPollStarted(p models.Poll) PollStartedPayload {
	opts := make([]OptionPayload, len(p.Options))
	for i, o := range p.Options {
		opts[i] = OptionPayload{ID: o.ID, Text: o.Text}
	}
	out := PollStartedPayload{
		PollID:    p.ID,
		Question:  p.Question,
		Options:   opts,
		Duration:  p.Duration,
		CreatedBy: p.CreatedByName,
	}
	if p.StartTime != nil {
		out.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		out.EndTime = *p.EndTime
	}
	return out
}

// NewRoster builds the active_users payload.
func NewRoster(ps []models.Participant) []RosterEntry {
	out := make([]RosterEntry, len(ps))
	for i, p := range ps {
		out[i] = RosterEntry{ID: p.ID, DisplayName: p.DisplayName, Role: p.Role, Kind: p.Kind, JoinedAt: p.JoinedAt}
	}
	return out
}

// NewMessage builds the new_message payload from a chat message.
func NewMessage(m models.ChatMessage) NewMessagePayload {
	return NewMessagePayload{
		ID:        m.ID,
		Text:      m.Text,
		Sender:    m.Sender,
		Timestamp: m.CreatedAt,
		PollID:    m.PollID,
		Room:      m.Room,
		Type:      m.Type,
	}
}
