// Package session routes connection events to presence, polls and chat,
// enforcing who may do what.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/chat"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/polls"
	"github.com/aura-classroom/backend/internal/presence"
	"github.com/aura-classroom/backend/internal/realtime"
)

const kickedMessage = "You have been removed from the session"

// Hub is the broadcast surface the supervisor drives.
type Hub interface {
	Broadcast(event string, payload interface{})
	BroadcastExcept(connID, event string, payload interface{})
	BroadcastToRoom(room, event string, payload interface{})
	SendTo(connID, event string, payload interface{})
	JoinRoom(connID, room string) bool
	InRoom(connID, room string) bool
	Disconnect(connID string)
}

// Attendance records durable participants' presence.
type Attendance interface {
	LogJoin(ctx context.Context, p models.Participant) error
	LogLeave(ctx context.Context, participantID string) error
}

// Options tunes the supervisor.
type Options struct {
	RosterIncludeEphemeral bool
	StoreTimeout           time.Duration
}

// Supervisor implements realtime.Dispatcher.
type Supervisor struct {
	registry   *presence.Registry
	engine     *polls.Engine
	relay      *chat.Relay
	hub        Hub
	identities *Resolver
	attendance Attendance

	mu    sync.Mutex
	conns map[string]realtime.ConnInfo

	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

// NewSupervisor wires the session components. attendance may be nil.
func NewSupervisor(registry *presence.Registry, engine *polls.Engine, relay *chat.Relay, hub Hub,
	identities *Resolver, attendance Attendance, opts Options, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		registry:   registry,
		engine:     engine,
		relay:      relay,
		hub:        hub,
		identities: identities,
		attendance: attendance,
		conns:      make(map[string]realtime.ConnInfo),
		opts:       opts,
		now:        time.Now,
		logger:     logger,
	}
}

// Connect remembers a new connection's upgrade details until it joins.
func (s *Supervisor) Connect(info realtime.ConnInfo) {
	s.mu.Lock()
	s.conns[info.ID] = info
	s.mu.Unlock()
}

// Disconnect removes the connection's participant. Ephemeral departures are silent
// unless ephemeral participants are shown in the roster.
func (s *Supervisor) Disconnect(connID string) {
	s.forget(connID)

	p, ok := s.registry.Leave(connID)
	if !ok {
		return
	}
	s.logLeave(p)
	if !s.visible(p) {
		return
	}
	s.hub.Broadcast(realtime.EventUserLeft, realtime.PresencePayload{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Role:          p.Role,
		Timestamp:     s.now(),
	})
	s.broadcastRoster()
	s.logger.Info("participant left", zap.String("participant_id", p.ID))
}

// forget drops a connection so events still in flight on its socket are rejected.
func (s *Supervisor) forget(connID string) {
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

// HandleEvent routes one inbound event. Failures are reported to the sender only.
func (s *Supervisor) HandleEvent(connID, event string, data json.RawMessage) {
	var err error
	switch event {
	case realtime.InJoin:
		err = s.join(connID, data)
	case realtime.InJoinRoom:
		err = s.joinRoom(connID, data)
	case realtime.InSendMessage:
		err = s.sendMessage(connID, data)
	case realtime.InCreatePoll:
		err = s.createPoll(connID, data)
	case realtime.InVote, realtime.InVotePoll:
		err = s.vote(connID, data)
	case realtime.InEndPoll:
		err = s.endPoll(connID, data)
	case realtime.InCancelPoll:
		err = s.cancelPoll(connID, data)
	case realtime.InKick:
		err = s.kick(connID, data)
	case realtime.InChatHistory:
		err = s.chatHistory(connID, data)
	case realtime.InDeleteMessage:
		err = s.deleteMessage(connID, data)
	case realtime.InEditMessage:
		err = s.editMessage(connID, data)
	case realtime.InReactMessage:
		err = s.reactMessage(connID, data)
	default:
		err = fmt.Errorf("%w: unknown event %q", models.ErrValidation, event)
	}
	if err != nil {
		s.sendError(connID, event, err)
	}
}

func (s *Supervisor) sendError(connID, event string, err error) {
	code := models.ErrorCode(err)
	msg := err.Error()
	if code == "internal" {
		s.logger.Error("event failed", zap.String("conn_id", connID), zap.String("event", event), zap.Error(err))
		msg = "internal error"
	} else {
		s.logger.Debug("event rejected", zap.String("conn_id", connID), zap.String("event", event), zap.Error(err))
	}
	s.hub.SendTo(connID, realtime.EventError, realtime.ErrorPayload{Message: msg, Code: code, Event: event})
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", models.ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload", models.ErrValidation)
	}
	return nil
}

func parseID(field, v string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(v))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", models.ErrValidation, field)
	}
	return id, nil
}

// participant returns the connection's live participant or ErrUnauthenticated.
func (s *Supervisor) participant(connID string) (models.Participant, error) {
	p, ok := s.registry.Find(connID)
	if !ok {
		return models.Participant{}, models.ErrUnauthenticated
	}
	return p, nil
}

func (s *Supervisor) teacher(connID, action string) (models.Participant, error) {
	p, err := s.participant(connID)
	if err != nil {
		return p, err
	}
	if !p.IsTeacher() {
		return p, fmt.Errorf("%w: only the teacher can %s", models.ErrUnauthorized, action)
	}
	return p, nil
}

func (s *Supervisor) visible(p models.Participant) bool {
	return !p.IsEphemeral() || s.opts.RosterIncludeEphemeral
}

func (s *Supervisor) broadcastRoster() {
	users := s.registry.List(presence.Filter{ExcludeEphemeral: !s.opts.RosterIncludeEphemeral})
	s.hub.Broadcast(realtime.EventActiveUsers, realtime.NewRoster(users))
}

type joinRequest struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	DisplayName string      `json:"displayName"`
	Username    string      `json:"username"`
	Role        models.Role `json:"role"`
}

func (s *Supervisor) join(connID string, data json.RawMessage) error {
	var req joinRequest
	s.mu.Lock()
	info, known := s.conns[connID]
	s.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: unknown connection", models.ErrTransport)
	}
	if !info.Verified || len(data) > 0 {
		if err := decode(data, &req); err != nil {
			return err
		}
	}
	if req.ID == "" {
		req.ID = req.UserID
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	identity, err := s.identities.Resolve(info, models.Identity{ID: req.ID, DisplayName: req.DisplayName, Role: req.Role})
	if err != nil {
		return err
	}
	res, err := s.registry.Join(connID, identity)
	if err != nil {
		return err
	}
	p := res.Participant

	if ev := res.Evicted; ev != nil {
		s.forget(ev.ConnectionID)
		s.hub.Disconnect(ev.ConnectionID)
		s.logLeave(*ev)
		s.logger.Info("evicted duplicate connection",
			zap.String("participant_id", ev.ID), zap.String("conn_id", ev.ConnectionID))
	}
	s.hub.JoinRoom(connID, realtime.GeneralRoom)

	if !p.IsEphemeral() {
		s.logJoin(p)
		s.hub.BroadcastExcept(connID, realtime.EventUserJoined, realtime.PresencePayload{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Role:          p.Role,
			Timestamp:     p.JoinedAt,
		})
	}
	if s.visible(p) || res.Evicted != nil {
		s.broadcastRoster()
	}
	s.hub.SendTo(connID, realtime.EventSessionState, s.sessionState(p))
	s.logger.Info("participant joined",
		zap.String("participant_id", p.ID), zap.String("role", string(p.Role)), zap.String("kind", string(p.Kind)))
	return nil
}

func (s *Supervisor) sessionState(p models.Participant) realtime.SessionStatePayload {
	state := realtime.SessionStatePayload{Participant: p, QueueLength: s.engine.QueueLength()}
	if active, ok := s.engine.Active(); ok {
		started := realtime.NewPollStarted(active)
		state.ActivePoll = &started
		state.Results = active.Results()
		state.RemainingSeconds = active.RemainingSeconds(s.engine.Now())
		state.HasVoted = active.HasVoted(p.ID)
	}
	return state
}

type roomRequest struct {
	Room string `json:"room"`
}

func (s *Supervisor) joinRoom(connID string, data json.RawMessage) error {
	p, err := s.participant(connID)
	if err != nil {
		return err
	}
	var req roomRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	room := strings.TrimSpace(req.Room)
	if room == "" {
		return fmt.Errorf("%w: room is required", models.ErrValidation)
	}
	if !s.hub.JoinRoom(connID, room) {
		return fmt.Errorf("%w: connection closed", models.ErrTransport)
	}
	s.hub.BroadcastToRoom(room, realtime.EventUserJoinedRoom, realtime.RoomJoinedPayload{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Room:          room,
		Timestamp:     s.now(),
	})
	return nil
}

type messageRequest struct {
	Text    string `json:"text"`
	Message string `json:"message"`
	PollID  string `json:"pollId"`
	Room    string `json:"room"`
}

func (s *Supervisor) sendMessage(connID string, data json.RawMessage) error {
	p, err := s.participant(connID)
	if err != nil {
		return err
	}
	var req messageRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.Text == "" {
		req.Text = req.Message
	}
	in := chat.PostInput{Text: req.Text, Room: strings.TrimSpace(req.Room)}
	if req.PollID != "" {
		id, err := parseID("pollId", req.PollID)
		if err != nil {
			return err
		}
		in.PollID = &id
	}
	if in.Room != "" && !s.hub.InRoom(connID, in.Room) {
		return fmt.Errorf("%w: join room %q first", models.ErrValidation, in.Room)
	}
	_, err = s.relay.Post(p, in)
	return err
}

type createPollRequest struct {
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	Duration        int      `json:"duration"`
	CorrectOptionID *int     `json:"correctOptionId"`
}

func (s *Supervisor) createPoll(connID string, data json.RawMessage) error {
	p, err := s.teacher(connID, "create polls")
	if err != nil {
		return err
	}
	var req createPollRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, _, err := s.engine.Create(polls.CreateInput{
		Question:        req.Question,
		Options:         req.Options,
		Duration:        req.Duration,
		CorrectOptionID: req.CorrectOptionID,
		CreatedBy:       p.ID,
		CreatedByName:   p.DisplayName,
	}); err != nil {
		return err
	}
	s.engine.AdvanceQueue()
	return nil
}

type voteRequest struct {
	PollID   string `json:"pollId"`
	OptionID *int   `json:"optionId"`
}

func (s *Supervisor) vote(connID string, data json.RawMessage) error {
	p, err := s.participant(connID)
	if err != nil {
		return err
	}
	var req voteRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pollID, err := parseID("pollId", req.PollID)
	if err != nil {
		return err
	}
	if req.OptionID == nil {
		return fmt.Errorf("%w: optionId is required", models.ErrValidation)
	}
	_, err = s.engine.Vote(pollID, p.ID, p.DisplayName, *req.OptionID)
	return err
}

type pollRequest struct {
	PollID string `json:"pollId"`
}

func (s *Supervisor) endPoll(connID string, data json.RawMessage) error {
	p, err := s.teacher(connID, "end polls")
	if err != nil {
		return err
	}
	var req pollRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pollID, err := parseID("pollId", req.PollID)
	if err != nil {
		return err
	}
	_, err = s.engine.End(pollID, p)
	return err
}

func (s *Supervisor) cancelPoll(connID string, data json.RawMessage) error {
	p, err := s.teacher(connID, "cancel polls")
	if err != nil {
		return err
	}
	var req pollRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pollID, err := parseID("pollId", req.PollID)
	if err != nil {
		return err
	}
	_, err = s.engine.Cancel(pollID, p)
	return err
}

type kickRequest struct {
	ParticipantID string `json:"participantId"`
	UserID        string `json:"userId"`
}

func (s *Supervisor) kick(connID string, data json.RawMessage) error {
	kicker, err := s.teacher(connID, "remove participants")
	if err != nil {
		return err
	}
	var req kickRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	targetID := strings.TrimSpace(req.ParticipantID)
	if targetID == "" {
		targetID = strings.TrimSpace(req.UserID)
	}
	if targetID == "" {
		return fmt.Errorf("%w: participantId is required", models.ErrValidation)
	}
	if targetID == kicker.ID {
		return fmt.Errorf("%w: cannot remove yourself", models.ErrValidation)
	}
	target, ok := s.registry.FindByParticipantID(targetID)
	if !ok {
		return fmt.Errorf("%w: participant %s is not connected", models.ErrNotFound, targetID)
	}

	now := s.now()
	s.hub.SendTo(target.ConnectionID, realtime.EventKickedOut, realtime.KickedOutPayload{Message: kickedMessage, Timestamp: now})
	if _, ok := s.registry.Leave(target.ConnectionID); ok {
		s.logLeave(target)
	}
	s.forget(target.ConnectionID)
	s.hub.Disconnect(target.ConnectionID)

	s.relay.SystemNotice(fmt.Sprintf("%s has been removed from the session by %s", target.DisplayName, kicker.DisplayName))
	s.broadcastRoster()
	s.hub.BroadcastExcept(connID, realtime.EventParticipantKicked, realtime.ParticipantKickedPayload{
		ParticipantID: target.ID,
		DisplayName:   target.DisplayName,
		KickedBy:      kicker.DisplayName,
		Timestamp:     now,
	})
	s.logger.Info("participant kicked", zap.String("participant_id", target.ID), zap.String("kicked_by", kicker.ID))
	return nil
}

type historyRequest struct {
	PollID string `json:"pollId"`
	Room   string `json:"room"`
	Limit  int    `json:"limit"`
}

func (s *Supervisor) chatHistory(connID string, data json.RawMessage) error {
	var req historyRequest
	if len(data) > 0 {
		if err := decode(data, &req); err != nil {
			return err
		}
	}
	f := chat.HistoryFilter{Room: strings.TrimSpace(req.Room), Limit: req.Limit}
	if req.PollID != "" {
		id, err := parseID("pollId", req.PollID)
		if err != nil {
			return err
		}
		f.PollID = &id
	}
	if f.Room != "" && !s.hub.InRoom(connID, f.Room) {
		return fmt.Errorf("%w: join room %q first", models.ErrValidation, f.Room)
	}
	msgs := s.relay.History(f)
	out := make([]realtime.NewMessagePayload, len(msgs))
	for i, m := range msgs {
		out[i] = realtime.NewMessage(m)
	}
	s.hub.SendTo(connID, realtime.EventChatHistory, realtime.ChatHistoryPayload{Messages: out, PollID: f.PollID})
	return nil
}

type messageActionRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	Emoji     string `json:"emoji"`
}

func (s *Supervisor) messageAction(connID string, data json.RawMessage) (models.Participant, uuid.UUID, messageActionRequest, error) {
	var req messageActionRequest
	p, err := s.participant(connID)
	if err != nil {
		return p, uuid.Nil, req, err
	}
	if err := decode(data, &req); err != nil {
		return p, uuid.Nil, req, err
	}
	id, err := parseID("messageId", req.MessageID)
	return p, id, req, err
}

func (s *Supervisor) deleteMessage(connID string, data json.RawMessage) error {
	p, id, _, err := s.messageAction(connID, data)
	if err != nil {
		return err
	}
	return s.relay.SoftDelete(id, p)
}

func (s *Supervisor) editMessage(connID string, data json.RawMessage) error {
	p, id, req, err := s.messageAction(connID, data)
	if err != nil {
		return err
	}
	_, err = s.relay.Edit(id, req.Text, p)
	return err
}

func (s *Supervisor) reactMessage(connID string, data json.RawMessage) error {
	p, id, req, err := s.messageAction(connID, data)
	if err != nil {
		return err
	}
	_, err = s.relay.React(id, req.Emoji, p)
	return err
}

func (s *Supervisor) logJoin(p models.Participant) {
	if s.attendance == nil || p.IsEphemeral() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()
	if err := s.attendance.LogJoin(ctx, p); err != nil {
		s.logger.Warn("attendance join", zap.String("participant_id", p.ID), zap.Error(err))
	}
}

func (s *Supervisor) logLeave(p models.Participant) {
	if s.attendance == nil || p.IsEphemeral() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StoreTimeout)
	defer cancel()
	if err := s.attendance.LogLeave(ctx, p.ID); err != nil {
		s.logger.Warn("attendance leave", zap.String("participant_id", p.ID), zap.Error(err))
	}
}
