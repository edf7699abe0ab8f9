// Package polls runs the poll lifecycle: creation, the FIFO activation queue,
// deadline expiry, voting, and the HTTP read surface over polls.
package polls

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
)

const (
	msgQueuedBehind = "Poll queued. Will start after current poll ends."
	msgStartingNow  = "Poll queued. Starting now..."

	reasonExpired = "expired"
	reasonEnded   = "ended"
)

// Store persists poll snapshots. Save is an upsert keyed by poll id.
type Store interface {
	Save(ctx context.Context, p *models.Poll) error
}

// Broadcaster fans poll events out to every connection.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// Options bounds and tunes the engine.
type Options struct {
	MinDuration     int // seconds
	MaxDuration     int // seconds
	DefaultDuration int // seconds, used when CreateInput.Duration is 0
	GraceDelay      time.Duration
	StoreTimeout    time.Duration
}

// DefaultOptions returns the stock classroom bounds.
func DefaultOptions() Options {
	return Options{
		MinDuration:     5,
		MaxDuration:     300,
		DefaultDuration: 15,
		GraceDelay:      time.Second,
		StoreTimeout:    5 * time.Second,
	}
}

// CreateInput is a teacher's poll request.
type CreateInput struct {
	Question        string
	Options         []string
	Duration        int
	CorrectOptionID *int
	CreatedBy       string
	CreatedByName   string
}

type entry struct {
	poll  *models.Poll
	timer Timer // deadline timer while active
}

// Engine owns every poll, the activation queue and the deadline timers.
// All state is guarded by mu; events for a poll are broadcast while mu is held
// so connections observe queued -> started -> vote_update* -> ended in order.
type Engine struct {
	mu         sync.Mutex
	polls      map[uuid.UUID]*entry
	order      []uuid.UUID // creation order
	queue      []uuid.UUID
	active     *entry
	graceTimer Timer
	closed     bool

	dirty      map[uuid.UUID]struct{}
	flush      chan struct{}
	writerDone chan struct{}

	store   Store
	hub     Broadcaster
	sched   Scheduler
	opts    Options
	logger  *zap.Logger
	onEnded func(models.Poll)
}

// NewEngine creates an engine. store may be nil (memory only); sched nil means wall clock.
func NewEngine(store Store, hub Broadcaster, sched Scheduler, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sched == nil {
		sched = RealScheduler()
	}
	e := &Engine{
		polls:  make(map[uuid.UUID]*entry),
		dirty:  make(map[uuid.UUID]struct{}),
		store:  store,
		hub:    hub,
		sched:  sched,
		opts:   opts,
		logger: logger,
	}
	if store != nil {
		e.flush = make(chan struct{}, 1)
		e.writerDone = make(chan struct{})
		go e.runWriter()
	}
	return e
}

// SetEndedHandler registers f to run (outside the engine lock) after a poll completes.
func (e *Engine) SetEndedHandler(f func(models.Poll)) {
	e.mu.Lock()
	e.onEnded = f
	e.mu.Unlock()
}

// Now returns the engine's clock.
func (e *Engine) Now() time.Time { return e.sched.Now() }

// Create validates and queues a new poll. It does not activate it; call AdvanceQueue.
// Returns the queued poll and its 1-based queue position.
func (e *Engine) Create(in CreateInput) (models.Poll, int, error) {
	p, err := e.build(in)
	if err != nil {
		return models.Poll{}, 0, err
	}
	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.StoreTimeout)
		if err := e.store.Save(ctx, p); err != nil {
			e.logger.Warn("persist new poll", zap.String("poll_id", p.ID.String()), zap.Error(err))
		}
		cancel()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return models.Poll{}, 0, fmt.Errorf("%w: session is shutting down", models.ErrNotActive)
	}
	p.Status = models.PollQueued
	p.UpdatedAt = e.sched.Now()
	en := &entry{poll: p}
	e.polls[p.ID] = en
	e.order = append(e.order, p.ID)
	e.queue = append(e.queue, p.ID)
	e.markDirty(p.ID)

	pos := len(e.queue)
	msg := msgStartingNow
	if e.active != nil || e.graceTimer != nil || pos > 1 {
		msg = msgQueuedBehind
	}
	e.hub.Broadcast(realtime.EventPollQueued, realtime.PollQueuedPayload{
		PollID:        p.ID,
		Question:      p.Question,
		QueuePosition: pos,
		Message:       msg,
	})
	e.logger.Info("poll queued", zap.String("poll_id", p.ID.String()), zap.Int("position", pos))
	return p.Clone(), pos, nil
}

func (e *Engine) build(in CreateInput) (*models.Poll, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", models.ErrValidation)
	}
	if len(in.Options) < 2 {
		return nil, fmt.Errorf("%w: at least 2 options are required", models.ErrValidation)
	}
	opts := make([]models.Option, len(in.Options))
	for i, text := range in.Options {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("%w: option %d is empty", models.ErrValidation, i)
		}
		opts[i] = models.Option{ID: i, Text: text, Voters: []models.Voter{}}
	}
	duration := in.Duration
	if duration == 0 {
		duration = e.opts.DefaultDuration
	}
	if duration < e.opts.MinDuration || duration > e.opts.MaxDuration {
		return nil, fmt.Errorf("%w: duration must be between %d and %d seconds",
			models.ErrValidation, e.opts.MinDuration, e.opts.MaxDuration)
	}
	if in.CorrectOptionID != nil && (*in.CorrectOptionID < 0 || *in.CorrectOptionID >= len(opts)) {
		return nil, fmt.Errorf("%w: correctOptionId out of range", models.ErrValidation)
	}
	if in.CreatedBy == "" {
		return nil, fmt.Errorf("%w: creator is required", models.ErrValidation)
	}
	now := e.sched.Now()
	p := &models.Poll{
		ID:            uuid.New(),
		Question:      question,
		Options:       opts,
		CreatedBy:     in.CreatedBy,
		CreatedByName: in.CreatedByName,
		Duration:      duration,
		Status:        models.PollDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.CorrectOptionID != nil {
		v := *in.CorrectOptionID
		p.CorrectOptionID = &v
	}
	return p, nil
}

// AdvanceQueue activates the queue head when no poll is active and no grace delay
// is pending. Returns true if a poll was activated.
func (e *Engine) AdvanceQueue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked()
}

func (e *Engine) advanceLocked() bool {
	if e.closed || e.active != nil || e.graceTimer != nil {
		return false
	}
	for len(e.queue) > 0 {
		id := e.queue[0]
		e.queue = e.queue[1:]
		en, ok := e.polls[id]
		if !ok || en.poll.Status != models.PollQueued {
			continue
		}
		e.activateLocked(en)
		return true
	}
	return false
}

func (e *Engine) activateLocked(en *entry) {
	p := en.poll
	now := e.sched.Now()
	end := now.Add(time.Duration(p.Duration) * time.Second)
	p.Status = models.PollActive
	p.StartTime = &now
	p.EndTime = &end
	p.UpdatedAt = now
	e.active = en

	id := p.ID
	en.timer = e.sched.AfterFunc(time.Duration(p.Duration)*time.Second, func() { e.Expire(id) })
	e.markDirty(id)
	started := realtime.NewPollStarted(*p)
	e.hub.Broadcast(realtime.EventPollCreated, started)
	e.hub.Broadcast(realtime.EventPollStarted, started)
	e.logger.Info("poll started", zap.String("poll_id", id.String()), zap.Int("duration", p.Duration))
}

// Vote records participantID's choice on an active poll.
func (e *Engine) Vote(pollID uuid.UUID, participantID, displayName string, optionID int) (models.Poll, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.polls[pollID]
	if !ok {
		return models.Poll{}, fmt.Errorf("%w: poll %s", models.ErrNotFound, pollID)
	}
	p := en.poll
	now := e.sched.Now()
	if !p.IsActive() || (p.EndTime != nil && !now.Before(*p.EndTime)) {
		return models.Poll{}, models.ErrNotActive
	}
	opt, ok := p.Option(optionID)
	if !ok {
		return models.Poll{}, models.ErrInvalidOption
	}
	if p.HasVoted(participantID) {
		return models.Poll{}, models.ErrDuplicateVote
	}

	opt.Voters = append(opt.Voters, models.Voter{ParticipantID: participantID, DisplayName: displayName, VotedAt: now})
	opt.Votes = len(opt.Voters)
	p.TotalVotes++
	p.UpdatedAt = now
	e.markDirty(pollID)

	e.hub.Broadcast(realtime.EventVoteUpdate, realtime.VoteUpdatePayload{
		PollID:     pollID,
		OptionID:   optionID,
		Voter:      displayName,
		TotalVotes: p.TotalVotes,
		Results:    p.Results(),
	})
	return p.Clone(), nil
}

// Expire completes the poll if it is still active. Called by the deadline timer;
// a poll already ended or cancelled is left untouched.
func (e *Engine) Expire(pollID uuid.UUID) {
	e.mu.Lock()
	en, ok := e.polls[pollID]
	if !ok || !en.poll.IsActive() || e.closed {
		e.mu.Unlock()
		return
	}
	ended, handler := e.completeLocked(en, reasonExpired)
	e.mu.Unlock()
	e.notifyEnded(handler, ended)
}

// End terminates an active poll early. Only a teacher may end a poll.
func (e *Engine) End(pollID uuid.UUID, requester models.Participant) (models.Poll, error) {
	if !requester.IsTeacher() {
		return models.Poll{}, fmt.Errorf("%w: only the teacher can end polls", models.ErrUnauthorized)
	}
	e.mu.Lock()
	en, ok := e.polls[pollID]
	if !ok {
		e.mu.Unlock()
		return models.Poll{}, fmt.Errorf("%w: poll %s", models.ErrNotFound, pollID)
	}
	if !en.poll.IsActive() {
		e.mu.Unlock()
		return models.Poll{}, models.ErrNotActive
	}
	ended, handler := e.completeLocked(en, reasonEnded)
	e.mu.Unlock()
	e.notifyEnded(handler, ended)
	return ended, nil
}

// completeLocked performs the active -> completed transition and schedules queue advancement.
func (e *Engine) completeLocked(en *entry, reason string) (models.Poll, func(models.Poll)) {
	if en.timer != nil {
		en.timer.Stop()
		en.timer = nil
	}
	p := en.poll
	now := e.sched.Now()
	p.Status = models.PollCompleted
	p.EndedAt = &now
	p.UpdatedAt = now
	if e.active == en {
		e.active = nil
	}
	e.markDirty(p.ID)

	e.hub.Broadcast(realtime.EventPollEnded, realtime.PollEndedPayload{
		PollID:          p.ID,
		Results:         p.Results(),
		TotalVotes:      p.TotalVotes,
		CorrectOptionID: p.CorrectOptionID,
		Reason:          reason,
	})
	e.logger.Info("poll ended",
		zap.String("poll_id", p.ID.String()),
		zap.String("reason", reason),
		zap.Int("total_votes", p.TotalVotes))

	e.scheduleAdvanceLocked()
	return p.Clone(), e.onEnded
}

func (e *Engine) scheduleAdvanceLocked() {
	if e.opts.GraceDelay <= 0 {
		e.advanceLocked()
		return
	}
	var t Timer
	t = e.sched.AfterFunc(e.opts.GraceDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.graceTimer != t {
			return
		}
		e.graceTimer = nil
		e.advanceLocked()
	})
	e.graceTimer = t
}

func (e *Engine) notifyEnded(handler func(models.Poll), p models.Poll) {
	if handler != nil {
		handler(p)
	}
}

// Cancel withdraws a queued poll. Active or finished polls cannot be cancelled.
func (e *Engine) Cancel(pollID uuid.UUID, requester models.Participant) (models.Poll, error) {
	if !requester.IsTeacher() {
		return models.Poll{}, fmt.Errorf("%w: only the teacher can cancel polls", models.ErrUnauthorized)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.polls[pollID]
	if !ok {
		return models.Poll{}, fmt.Errorf("%w: poll %s", models.ErrNotFound, pollID)
	}
	if en.poll.Status != models.PollQueued {
		return models.Poll{}, fmt.Errorf("%w: only queued polls can be cancelled", models.ErrNotActive)
	}
	for i, id := range e.queue {
		if id == pollID {
			e.queue = append(e.queue[:i:i], e.queue[i+1:]...)
			break
		}
	}
	p := en.poll
	now := e.sched.Now()
	p.Status = models.PollCancelled
	p.EndedAt = &now
	p.UpdatedAt = now
	e.markDirty(pollID)

	e.hub.Broadcast(realtime.EventPollCancelled, realtime.PollCancelledPayload{PollID: pollID})
	e.logger.Info("poll cancelled", zap.String("poll_id", pollID.String()))
	return p.Clone(), nil
}

// Get returns a copy of the poll.
func (e *Engine) Get(pollID uuid.UUID) (models.Poll, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.polls[pollID]
	if !ok {
		return models.Poll{}, false
	}
	return en.poll.Clone(), true
}

// Active returns a copy of the active poll, if any.
func (e *Engine) Active() (models.Poll, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return models.Poll{}, false
	}
	return e.active.poll.Clone(), true
}

// QueueLength returns the number of polls waiting to start.
func (e *Engine) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	IsActive  *bool
	CreatedBy string
	Status    models.PollStatus
	Limit     int
}

// List returns polls newest first.
func (e *Engine) List(f ListFilter) []models.Poll {
	e.mu.Lock()
	out := make([]models.Poll, 0, len(e.order))
	for _, id := range e.order {
		p := e.polls[id].poll
		if f.IsActive != nil && p.IsActive() != *f.IsActive {
			continue
		}
		if f.CreatedBy != "" && p.CreatedBy != f.CreatedBy {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p.Clone())
	}
	e.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Shutdown cancels every timer and flushes pending writes. The engine rejects
// further creates; it is safe to call more than once.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, en := range e.polls {
		if en.timer != nil {
			en.timer.Stop()
			en.timer = nil
		}
	}
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	if e.flush != nil {
		close(e.flush)
	}
	e.mu.Unlock()

	if e.writerDone != nil {
		<-e.writerDone
	}
	e.logger.Info("poll engine stopped")
}

// markDirty schedules a write of the poll's latest state. Caller holds mu.
func (e *Engine) markDirty(id uuid.UUID) {
	if e.store == nil || e.closed {
		return
	}
	e.dirty[id] = struct{}{}
	select {
	case e.flush <- struct{}{}:
	default:
	}
}

// runWriter persists dirty polls in the background. Each write carries the poll's
// latest snapshot, so coalesced updates never go backwards.
func (e *Engine) runWriter() {
	defer close(e.writerDone)
	for range e.flush {
		e.writeDirty()
	}
	e.writeDirty()
}

func (e *Engine) writeDirty() {
	e.mu.Lock()
	snaps := make([]models.Poll, 0, len(e.dirty))
	for id := range e.dirty {
		if en, ok := e.polls[id]; ok {
			snaps = append(snaps, en.poll.Clone())
		}
	}
	e.dirty = make(map[uuid.UUID]struct{})
	e.mu.Unlock()

	for i := range snaps {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.StoreTimeout)
		if err := e.store.Save(ctx, &snaps[i]); err != nil {
			e.logger.Warn("persist poll", zap.String("poll_id", snaps[i].ID.String()), zap.Error(err))
		}
		cancel()
	}
}
