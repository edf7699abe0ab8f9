package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func pollWithVotes(votes ...int) *Poll {
	p := &Poll{Status: PollActive}
	for i, n := range votes {
		o := Option{ID: i, Text: fmt.Sprintf("opt %d", i)}
		for j := 0; j < n; j++ {
			o.Voters = append(o.Voters, Voter{ParticipantID: fmt.Sprintf("p%d-%d", i, j)})
		}
		o.Votes = n
		p.TotalVotes += n
		p.Options = append(p.Options, o)
	}
	return p
}

func TestResultsPercentages(t *testing.T) {
	tests := []struct {
		name  string
		votes []int
		want  []int
	}{
		{"no votes", []int{0, 0, 0}, []int{0, 0, 0}},
		{"even split", []int{1, 1}, []int{50, 50}},
		{"thirds round", []int{1, 1, 1}, []int{33, 33, 33}},
		{"two thirds rounds up", []int{2, 1}, []int{67, 33}},
		{"unanimous", []int{0, 4}, []int{0, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pollWithVotes(tt.votes...)
			res := p.Results()
			sum := 0
			for i, r := range res {
				assert.Equal(t, tt.want[i], r.Percentage)
				sum += r.Votes
			}
			assert.Equal(t, p.TotalVotes, sum)
		})
	}
}

func TestResultsMarksCorrectOption(t *testing.T) {
	p := pollWithVotes(1, 1)
	correct := 1
	p.CorrectOptionID = &correct

	res := p.Results()
	assert.False(t, res[0].IsCorrect)
	assert.True(t, res[1].IsCorrect)
}

func TestHasVoted(t *testing.T) {
	p := pollWithVotes(1, 0)
	assert.True(t, p.HasVoted("p0-0"))
	assert.False(t, p.HasVoted("someone"))
}

func TestCloneDoesNotAlias(t *testing.T) {
	p := pollWithVotes(1, 0)
	c := p.Clone()
	c.Options[0].Voters[0].DisplayName = "changed"
	c.Options[1].Votes = 9
	assert.Empty(t, p.Options[0].Voters[0].DisplayName)
	assert.Equal(t, 0, p.Options[1].Votes)
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := now.Add(4500 * time.Millisecond)
	p := &Poll{Status: PollActive, EndTime: &end}
	assert.Equal(t, 5, p.RemainingSeconds(now))
	assert.Equal(t, 0, p.RemainingSeconds(end.Add(time.Second)))
}

func TestSetReactionReplacesPrior(t *testing.T) {
	m := &ChatMessage{}
	now := time.Now()
	m.SetReaction("a", "👍", now)
	m.SetReaction("b", "🎉", now)
	m.SetReaction("a", "❤️", now)

	assert.Len(t, m.Reactions, 2)
	assert.Equal(t, "b", m.Reactions[0].ParticipantID)
	assert.Equal(t, "❤️", m.Reactions[1].Emoji)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "duplicate_vote", ErrorCode(fmt.Errorf("%w: poll x", ErrDuplicateVote)))
	assert.Equal(t, "not_active", ErrorCode(ErrNotActive))
	assert.Equal(t, "internal", ErrorCode(errors.New("boom")))
}
