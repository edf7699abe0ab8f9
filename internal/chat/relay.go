// Package chat relays classroom chat: posting, soft delete, edits, reactions
// and system notices, with write-through persistence for durable senders.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
)

const (
	maxHistoryLimit = 200
	maxEmojiLength  = 16
	systemName      = "System"
)

// Store persists chat messages. Save is an upsert keyed by message id.
type Store interface {
	Save(ctx context.Context, m *models.ChatMessage) error
	ListRecent(ctx context.Context, limit int) ([]models.ChatMessage, error)
}

// Broadcaster delivers chat events to every connection or to a room.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
	BroadcastToRoom(room, event string, payload interface{})
}

// Options tunes the relay.
type Options struct {
	MaxLength    int // runes, after trimming
	HistoryLimit int // default page size
	Retain       int // messages kept in memory
	StoreTimeout time.Duration
}

// DefaultOptions returns the stock chat limits.
func DefaultOptions() Options {
	return Options{MaxLength: 1000, HistoryLimit: 50, Retain: 1000, StoreTimeout: 5 * time.Second}
}

// PostInput is a chat line submitted by a participant.
type PostInput struct {
	Text   string
	PollID *uuid.UUID
	Room   string // empty means every connection
}

// HistoryFilter narrows History. A nil PollID selects general chat.
type HistoryFilter struct {
	PollID *uuid.UUID
	Room   string
	Limit  int
}

// Relay is the in-memory, ordered chat log. It is the single read path for history;
// the store is written through for durable senders.
type Relay struct {
	mu        sync.Mutex
	persistMu sync.Mutex
	log       []*models.ChatMessage
	byID      map[uuid.UUID]*models.ChatMessage

	store  Store
	hub    Broadcaster
	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

// NewRelay creates a relay. store may be nil.
func NewRelay(store Store, hub Broadcaster, opts Options, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		byID:   make(map[uuid.UUID]*models.ChatMessage),
		store:  store,
		hub:    hub,
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// Load warms the log with the most recent stored messages, oldest first.
func (r *Relay) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	msgs, err := r.store.ListRecent(ctx, r.opts.Retain)
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range msgs {
		m := msgs[i]
		m.Persisted = true
		r.appendLocked(&m)
	}
	r.logger.Info("chat history loaded", zap.Int("messages", len(msgs)))
	return nil
}

// Post validates and relays a participant's message. Durable senders' messages are
// stored before the broadcast; a store failure downgrades the message to broadcast-only.
func (r *Relay) Post(sender models.Participant, in PostInput) (models.ChatMessage, error) {
	text, err := r.cleanText(in.Text)
	if err != nil {
		return models.ChatMessage{}, err
	}
	m := &models.ChatMessage{
		ID:        uuid.New(),
		Text:      text,
		Sender:    models.Sender{ID: sender.ID, DisplayName: sender.DisplayName, Role: sender.Role},
		PollID:    in.PollID,
		Room:      in.Room,
		Type:      models.MessageText,
		CreatedAt: r.now(),
		Reactions: []models.Reaction{},
	}
	if !sender.IsEphemeral() && r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.StoreTimeout)
		if err := r.store.Save(ctx, m); err != nil {
			r.logger.Warn("persist chat message", zap.String("message_id", m.ID.String()), zap.Error(err))
		} else {
			m.Persisted = true
		}
		cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(m)
	r.emitLocked(m.Room, realtime.EventNewMessage, realtime.NewMessage(*m))
	return m.Clone(), nil
}

// SystemNotice posts a message from the system sender. It is never persisted.
func (r *Relay) SystemNotice(text string) models.ChatMessage {
	m := &models.ChatMessage{
		ID:        uuid.New(),
		Text:      text,
		Sender:    models.Sender{DisplayName: systemName, Role: models.RoleSystem},
		Type:      models.MessageSystem,
		CreatedAt: r.now(),
		Reactions: []models.Reaction{},
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(m)
	r.emitLocked("", realtime.EventNewMessage, realtime.NewMessage(*m))
	return m.Clone()
}

// SoftDelete hides a message from history. Allowed for its sender or a teacher.
func (r *Relay) SoftDelete(id uuid.UUID, requester models.Participant) error {
	r.mu.Lock()
	m, err := r.liveLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if m.Sender.ID != requester.ID && !requester.IsTeacher() {
		r.mu.Unlock()
		return fmt.Errorf("%w: only the sender or the teacher can delete a message", models.ErrUnauthorized)
	}
	m.IsDeleted = true
	r.emitLocked(m.Room, realtime.EventMessageDeleted, realtime.MessageDeletedPayload{ID: id})
	r.mu.Unlock()

	r.persistLatest(id)
	return nil
}

// Edit replaces the text of the requester's own message.
func (r *Relay) Edit(id uuid.UUID, text string, requester models.Participant) (models.ChatMessage, error) {
	text, err := r.cleanText(text)
	if err != nil {
		return models.ChatMessage{}, err
	}
	r.mu.Lock()
	m, err := r.liveLocked(id)
	if err != nil {
		r.mu.Unlock()
		return models.ChatMessage{}, err
	}
	if m.Sender.ID == "" || m.Sender.ID != requester.ID {
		r.mu.Unlock()
		return models.ChatMessage{}, fmt.Errorf("%w: only the sender can edit a message", models.ErrUnauthorized)
	}
	now := r.now()
	m.Text = text
	m.EditedAt = &now
	out := m.Clone()
	r.emitLocked(m.Room, realtime.EventMessageEdited, realtime.MessageEditedPayload{ID: id, Text: text, EditedAt: now})
	r.mu.Unlock()

	r.persistLatest(id)
	return out, nil
}

// React sets the requester's reaction on a message, replacing any earlier one.
func (r *Relay) React(id uuid.UUID, emoji string, requester models.Participant) (models.ChatMessage, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength {
		return models.ChatMessage{}, fmt.Errorf("%w: invalid emoji", models.ErrValidation)
	}
	r.mu.Lock()
	m, err := r.liveLocked(id)
	if err != nil {
		r.mu.Unlock()
		return models.ChatMessage{}, err
	}
	m.SetReaction(requester.ID, emoji, r.now())
	out := m.Clone()
	r.emitLocked(m.Room, realtime.EventMessageReaction, realtime.MessageReactionPayload{ID: id, Reactions: out.Reactions})
	r.mu.Unlock()

	r.persistLatest(id)
	return out, nil
}

// Get returns a message, including deleted ones.
func (r *Relay) Get(id uuid.UUID) (models.ChatMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return models.ChatMessage{}, false
	}
	return m.Clone(), true
}

// History returns the latest non-deleted messages matching f, oldest first.
func (r *Relay) History(f HistoryFilter) []models.ChatMessage {
	limit := f.Limit
	if limit <= 0 {
		limit = r.opts.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChatMessage
	for i := len(r.log) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.log[i]
		if m.IsDeleted || m.Room != f.Room || !samePoll(m.PollID, f.PollID) {
			continue
		}
		out = append(out, m.Clone())
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func samePoll(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *Relay) cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: message text is required", models.ErrValidation)
	}
	if utf8.RuneCountInString(text) > r.opts.MaxLength {
		return "", fmt.Errorf("%w: message exceeds %d characters", models.ErrValidation, r.opts.MaxLength)
	}
	return text, nil
}

func (r *Relay) liveLocked(id uuid.UUID) (*models.ChatMessage, error) {
	m, ok := r.byID[id]
	if !ok || m.IsDeleted {
		return nil, fmt.Errorf("%w: message %s", models.ErrNotFound, id)
	}
	return m, nil
}

func (r *Relay) appendLocked(m *models.ChatMessage) {
	r.log = append(r.log, m)
	r.byID[m.ID] = m
	if over := len(r.log) - r.opts.Retain; over > 0 {
		for _, old := range r.log[:over] {
			delete(r.byID, old.ID)
		}
		r.log = append(r.log[:0:0], r.log[over:]...)
	}
}

func (r *Relay) emitLocked(room, event string, payload interface{}) {
	if room != "" {
		r.hub.BroadcastToRoom(room, event, payload)
		return
	}
	r.hub.Broadcast(event, payload)
}

// persistLatest writes the current state of a stored message. Writes are serialized
// and always carry the newest snapshot.
func (r *Relay) persistLatest(id uuid.UUID) {
	if r.store == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	m, ok := r.byID[id]
	var snap models.ChatMessage
	if ok {
		snap = m.Clone()
	}
	r.mu.Unlock()
	if !ok || !snap.Persisted {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.StoreTimeout)
	defer cancel()
	if err := r.store.Save(ctx, &snap); err != nil {
		r.logger.Warn("persist chat update", zap.String("message_id", id.String()), zap.Error(err))
	}
}
