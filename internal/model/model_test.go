package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliberateRequestValidate(t *testing.T) {
	base := func() DeliberateRequest {
		return DeliberateRequest{
			Question: "Should we adopt TypeScript?",
			Participants: []Participant{
				{Adapter: "claude", Model: "sonnet"},
				{Adapter: "codex", Model: "gpt5"},
			},
			Rounds: 2,
			Mode:   ModeConference,
		}
	}

	t.Run("valid", func(t *testing.T) {
		r := base()
		require.NoError(t, r.Validate(5))
	})

	t.Run("defaults stance and mode", func(t *testing.T) {
		r := base()
		r.Mode = ""
		require.NoError(t, r.Validate(5))
		assert.Equal(t, ModeQuick, r.Mode)
		assert.Equal(t, 1, r.Rounds) // quick forces one round
		assert.Equal(t, StanceNeutral, r.Participants[0].Stance)
	})

	t.Run("too few participants", func(t *testing.T) {
		r := base()
		r.Participants = r.Participants[:1]
		assert.Error(t, r.Validate(5))
	})

	t.Run("rounds out of range", func(t *testing.T) {
		r := base()
		r.Rounds = 6
		assert.Error(t, r.Validate(5))
		r.Rounds = 0
		assert.Error(t, r.Validate(5))
	})

	t.Run("invalid stance", func(t *testing.T) {
		r := base()
		r.Participants[0].Stance = "maybe"
		assert.Error(t, r.Validate(5))
	})

	t.Run("empty question", func(t *testing.T) {
		r := base()
		r.Question = "   "
		assert.Error(t, r.Validate(5))
	})
}

func TestParticipantID(t *testing.T) {
	p := Participant{Adapter: "claude", Model: "sonnet"}
	assert.Equal(t, "sonnet@claude", p.ID())
}

func TestNormalizeQuestion(t *testing.T) {
	assert.Equal(t, "should we use react?", NormalizeQuestion("  Should   we\tuse\nReact?  "))
	assert.Equal(t, "", NormalizeQuestion("   "))
}

func TestQuestionHashStable(t *testing.T) {
	a := QuestionHash("Should we use React?")
	b := QuestionHash("should   we use react?")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, QuestionHash("something else"))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1.0, ClampScore(1.000000007))
	assert.Equal(t, 0.0, ClampScore(-0.001))
	assert.Equal(t, 0.5, ClampScore(0.5))
}
