package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PollStatus is a poll's lifecycle state: draft -> queued -> active -> completed|cancelled.
type PollStatus string

const (
	PollDraft     PollStatus = "draft"
	PollQueued    PollStatus = "queued"
	PollActive    PollStatus = "active"
	PollCompleted PollStatus = "completed"
	PollCancelled PollStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s PollStatus) Terminal() bool {
	return s == PollCompleted || s == PollCancelled
}

// Poll represents a timed multiple-choice question.
type Poll struct {
	ID              uuid.UUID  `json:"id"`
	Question        string     `json:"question"`
	Options         []Option   `json:"options"`
	CreatedBy       string     `json:"createdBy"`
	CreatedByName   string     `json:"createdByName"`
	Duration        int        `json:"duration"` // seconds
	CorrectOptionID *int       `json:"correctOptionId,omitempty"`
	Status          PollStatus `json:"status"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	TotalVotes      int        `json:"totalVotes"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Option is one answer choice. Votes always equals len(Voters).
type Option struct {
	ID     int     `json:"id"`
	Text   string  `json:"text"`
	Votes  int     `json:"votes"`
	Voters []Voter `json:"voters"`
}

// Voter records who voted for an option.
type Voter struct {
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	VotedAt       time.Time `json:"votedAt"`
}

// OptionResult is the tally for one option.
type OptionResult struct {
	OptionID   int    `json:"optionId"`
	Text       string `json:"text"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
	IsCorrect  bool   `json:"isCorrect,omitempty"`
}

// IsActive reports whether the poll currently accepts votes.
func (p *Poll) IsActive() bool { return p.Status == PollActive }

// Option returns the option with the given id.
func (p *Poll) Option(id int) (*Option, bool) {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i], true
		}
	}
	return nil, false
}

// HasVoted reports whether participantID appears in any option's voter list.
func (p *Poll) HasVoted(participantID string) bool {
	for _, o := range p.Options {
		for _, v := range o.Voters {
			if v.ParticipantID == participantID {
				return true
			}
		}
	}
	return false
}

// Results returns per-option tallies. Percentages are round(votes/total*100), or 0 when no votes.
func (p *Poll) Results() []OptionResult {
	out := make([]OptionResult, len(p.Options))
	for i, o := range p.Options {
		pct := 0
		if p.TotalVotes > 0 {
			pct = int(math.Round(float64(o.Votes) / float64(p.TotalVotes) * 100))
		}
		out[i] = OptionResult{
			OptionID:   o.ID,
			Text:       o.Text,
			Votes:      o.Votes,
			Percentage: pct,
			IsCorrect:  p.CorrectOptionID != nil && *p.CorrectOptionID == o.ID,
		}
	}
	return out
}

// RemainingSeconds returns whole seconds until EndTime, never negative.
func (p *Poll) RemainingSeconds(now time.Time) int {
	if p.EndTime == nil || !p.IsActive() {
		return 0
	}
	d := p.EndTime.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Clone returns a deep copy so callers never alias engine-owned state.
func (p *Poll) Clone() Poll {
	c := *p
	c.Options = make([]Option, len(p.Options))
	for i, o := range p.Options {
		o.Voters = append([]Voter(nil), o.Voters...)
		c.Options[i] = o
	}
	if p.CorrectOptionID != nil {
		v := *p.CorrectOptionID
		c.CorrectOptionID = &v
	}
	c.StartTime = cloneTime(p.StartTime)
	c.EndTime = cloneTime(p.EndTime)
	c.EndedAt = cloneTime(p.EndedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
