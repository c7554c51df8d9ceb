// Package model defines the shared domain types for deliberations and the
// decision graph. Types here are plain structs with no behavior beyond
// validation and identity helpers; all orchestration lives in the service
// packages.
package model

import (
	"fmt"
	"strings"
)

// Stance is a participant's assigned disposition toward the question.
type Stance string

const (
	StanceNeutral Stance = "neutral"
	StanceFor     Stance = "for"
	StanceAgainst Stance = "against"
)

// Valid reports whether s is a known stance.
func (s Stance) Valid() bool {
	switch s {
	case StanceNeutral, StanceFor, StanceAgainst:
		return true
	}
	return false
}

// Mode selects between a single-round opinion poll and a multi-round debate.
type Mode string

const (
	ModeQuick      Mode = "quick"
	ModeConference Mode = "conference"
)

// Participant identifies one model behind one adapter in a deliberation.
// Immutable once the request is validated.
type Participant struct {
	Adapter string `json:"adapter"`
	Model   string `json:"model"`
	Stance  Stance `json:"stance,omitempty"`
}

// ID returns the canonical participant identity, "model@adapter".
func (p Participant) ID() string {
	return p.Model + "@" + p.Adapter
}

// DeliberateRequest is the validated input to a deliberation.
type DeliberateRequest struct {
	Question         string        `json:"question"`
	Participants     []Participant `json:"participants"`
	Rounds           int           `json:"rounds,omitempty"`
	Mode             Mode          `json:"mode,omitempty"`
	Context          string        `json:"context,omitempty"`
	WorkingDirectory string        `json:"working_directory,omitempty"`
}

// Validate checks request shape against the limits. maxRounds is the
// configured ceiling (defaults.max_rounds).
func (r *DeliberateRequest) Validate(maxRounds int) error {
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("model: question is required")
	}
	if len(r.Participants) < 2 {
		return fmt.Errorf("model: at least 2 participants required, got %d", len(r.Participants))
	}
	for i, p := range r.Participants {
		if p.Adapter == "" || p.Model == "" {
			return fmt.Errorf("model: participant %d missing adapter or model", i)
		}
		if p.Stance == "" {
			r.Participants[i].Stance = StanceNeutral
		} else if !p.Stance.Valid() {
			return fmt.Errorf("model: participant %d has invalid stance %q", i, p.Stance)
		}
	}
	switch r.Mode {
	case "":
		r.Mode = ModeQuick
	case ModeQuick, ModeConference:
	default:
		return fmt.Errorf("model: invalid mode %q", r.Mode)
	}
	if r.Mode == ModeQuick {
		r.Rounds = 1
	}
	if r.Rounds < 1 {
		return fmt.Errorf("model: rounds must be >= 1, got %d", r.Rounds)
	}
	if maxRounds > 0 && r.Rounds > maxRounds {
		return fmt.Errorf("model: rounds must be <= %d, got %d", maxRounds, r.Rounds)
	}
	return nil
}

// ParticipantIDs returns the canonical identity strings in request order.
func (r *DeliberateRequest) ParticipantIDs() []string {
	ids := make([]string, len(r.Participants))
	for i, p := range r.Participants {
		ids[i] = p.ID()
	}
	return ids
}
