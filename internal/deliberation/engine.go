// Package deliberation runs the round loop: concurrent adapter fan-out,
// marker parsing, evidence tool execution, convergence checks and early
// stopping, ending in a persisted DeliberationResult.
package deliberation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/counselhq/counsel/internal/adapter"
	"github.com/counselhq/counsel/internal/convergence"
	"github.com/counselhq/counsel/internal/marker"
	"github.com/counselhq/counsel/internal/model"
	"github.com/counselhq/counsel/internal/similarity"
	"github.com/counselhq/counsel/internal/tools"
	"github.com/counselhq/counsel/internal/vote"
)

// Orchestration defaults.
const (
	DefaultTimeoutPerRound    = 300 * time.Second
	DefaultEarlyStopThreshold = 0.66
)

// EarlyStopConfig controls model-driven termination via continue_debate.
type EarlyStopConfig struct {
	Enabled          bool
	Threshold        float64
	RespectMinRounds bool
}

// Config holds the orchestrator settings.
type Config struct {
	DefaultRounds   int
	MaxRounds       int
	TimeoutPerRound time.Duration
	EarlyStop       EarlyStopConfig
	Convergence     convergence.Config
	ToolTimeout     time.Duration
	PreambleCap     int
	TranscriptsDir  string
}

func (c Config) withDefaults() Config {
	if c.DefaultRounds <= 0 {
		c.DefaultRounds = 2
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 5
	}
	if c.TimeoutPerRound <= 0 {
		c.TimeoutPerRound = DefaultTimeoutPerRound
	}
	if c.EarlyStop.Threshold == 0 {
		c.EarlyStop.Threshold = DefaultEarlyStopThreshold
	}
	return c
}

// Graph is the slice of the decision graph the engine needs. Both methods
// absorb their own failures.
type Graph interface {
	GetContextForDeliberation(ctx context.Context, question string) string
	StoreDeliberation(ctx context.Context, node *model.DecisionNode, stances []model.ParticipantStance) uuid.UUID
}

// Engine is the deliberation orchestrator. Single-flight per request;
// concurrent inside a round.
type Engine struct {
	registry    *adapter.Registry
	parser      *marker.Parser
	backend     similarity.Backend
	graph       Graph // nil when the decision graph is disabled
	transcripts *TranscriptWriter
	logger      *slog.Logger
	cfg         Config
	metrics     engineMetrics
}

// NewEngine wires the orchestrator. graph may be nil.
func NewEngine(registry *adapter.Registry, backend similarity.Backend, graph Graph, logger *slog.Logger, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		registry:    registry,
		parser:      marker.New(logger),
		backend:     backend,
		graph:       graph,
		transcripts: NewTranscriptWriter(cfg.TranscriptsDir),
		logger:      logger,
		cfg:         cfg,
		metrics:     newEngineMetrics(),
	}
}

// Deliberate validates the request and runs the round loop to completion.
// It returns an error only for invalid requests; everything downstream
// degrades into fields of the result.
func (e *Engine) Deliberate(ctx context.Context, req *model.DeliberateRequest) (*model.DeliberationResult, error) {
	if req.Rounds == 0 && req.Mode != model.ModeQuick {
		req.Rounds = e.cfg.DefaultRounds
	}
	if err := req.Validate(e.cfg.MaxRounds); err != nil {
		return nil, err
	}

	adapters := make(map[string]adapter.Adapter, len(req.Participants))
	for _, p := range req.Participants {
		a, err := e.registry.Get(p.Adapter)
		if err != nil {
			return nil, err
		}
		e.registry.CheckModel(p.Adapter, p.Model)
		adapters[p.ID()] = a
	}

	start := time.Now()
	e.logger.Info("deliberation: starting",
		"question_hash", model.QuestionHash(req.Question),
		"mode", req.Mode, "rounds", req.Rounds, "participants", req.ParticipantIDs())

	var graphContext string
	if e.graph != nil {
		graphContext = e.graph.GetContextForDeliberation(ctx, req.Question)
	}

	executor := tools.NewExecutor(tools.Config{
		WorkDir: req.WorkingDirectory,
		Timeout: e.cfg.ToolTimeout,
	}, e.logger)
	aggregator := vote.New(e.backend, e.logger)
	detector := convergence.New(e.cfg.Convergence, e.backend, e.logger)

	var (
		debate       []model.RoundResponse
		votes        []model.RoundVote
		toolRecords  []model.ToolExecutionRecord
		lastInfo     *model.ConvergenceInfo
		lastPreamble string
		failed       bool
		completed    int
	)

	for round := 1; round <= req.Rounds; round++ {
		if ctx.Err() != nil {
			e.logger.Warn("deliberation: request cancelled at round boundary", "round", round)
			break
		}

		responses := e.runRound(ctx, req, adapters, round, debate, graphContext, lastPreamble)
		if len(responses) == 0 {
			e.logger.Error("deliberation: zero successful responses", "round", round)
			failed = true
			break
		}
		completed = round
		prevRound := lastRoundResponses(debate, round-1)
		debate = append(debate, responses...)

		// Parse markers and run requested tools before anything else looks
		// at the round.
		var invocations []tools.Invocation
		var stopVotes int
		for _, r := range responses {
			if v := e.parser.ParseVote(r.Response); v != nil {
				votes = append(votes, model.RoundVote{
					Round: round, Participant: r.Participant, Vote: *v, Timestamp: r.Timestamp,
				})
				if !v.ContinueDebate {
					stopVotes++
				}
			}
			for _, tr := range e.parser.ParseToolRequests(r.Response) {
				invocations = append(invocations, tools.Invocation{
					Round: round, Participant: r.Participant, Request: tr,
				})
			}
		}
		lastPreamble = ""
		if len(invocations) > 0 {
			records := executor.ExecuteAll(ctx, invocations)
			toolRecords = append(toolRecords, records...)
			lastPreamble = tools.RenderPreamble(records, e.cfg.PreambleCap)
		}

		if req.Mode == model.ModeQuick {
			break
		}

		interim := aggregator.Aggregate(ctx, votes, round)
		if info := detector.Check(ctx, round, prevRound, responses, interim); info != nil {
			lastInfo = info
		}

		if e.shouldStopEarly(round, len(responses), stopVotes) {
			e.logger.Info("deliberation: early stop", "round", round,
				"stop_votes", stopVotes, "responses", len(responses))
			break
		}
		if lastInfo != nil && lastInfo.Detected {
			e.logger.Info("deliberation: convergence detected",
				"round", round, "status", lastInfo.Status, "similarity", lastInfo.FinalSimilarity)
			break
		}
	}

	result := e.buildResult(ctx, req, debate, votes, toolRecords, lastInfo, completed, failed, aggregator)
	e.logger.Info("deliberation: finished",
		"question_hash", model.QuestionHash(req.Question),
		"status", result.Status, "rounds_completed", result.RoundsCompleted,
		"elapsed_ms", time.Since(start).Milliseconds())
	e.metrics.record(ctx, result)
	return result, nil
}

// runRound fans out one adapter invocation per participant under the round
// deadline and returns successful responses in canonical order. Failures
// are logged and isolated to their participant.
func (e *Engine) runRound(ctx context.Context, req *model.DeliberateRequest, adapters map[string]adapter.Adapter, round int, debate []model.RoundResponse, graphContext, toolPreamble string) []model.RoundResponse {
	roundCtx, cancel := context.WithTimeout(ctx, e.cfg.TimeoutPerRound)
	defer cancel()

	var mu sync.Mutex
	var responses []model.RoundResponse

	var g errgroup.Group
	for _, p := range req.Participants {
		a := adapters[p.ID()]
		var prompt string
		if round == 1 {
			prompt = firstRoundPrompt(req, graphContext)
		} else {
			prompt = laterRoundPrompt(req, p, round, debate, toolPreamble)
		}

		g.Go(func() error {
			if limiter, ok := a.(adapter.PromptLimiter); ok {
				if err := limiter.ValidatePromptLength(prompt); err != nil {
					e.logger.Warn("deliberation: prompt over adapter limit",
						"participant", p.ID(), "round", round, "error", err)
					return nil
				}
			}
			text, err := a.Invoke(roundCtx, p.Model, prompt)
			if err != nil {
				e.logger.Warn("deliberation: adapter failed",
					"participant", p.ID(), "round", round, "error", err)
				return nil
			}
			mu.Lock()
			responses = append(responses, model.RoundResponse{
				Round:       round,
				Participant: p.ID(),
				Stance:      p.Stance,
				Response:    text,
				Timestamp:   time.Now().UTC(),
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(responses, func(i, j int) bool {
		return responses[i].Participant < responses[j].Participant
	})
	return responses
}

// shouldStopEarly applies the continue_debate fraction rule.
func (e *Engine) shouldStopEarly(round, responders, stopVotes int) bool {
	if !e.cfg.EarlyStop.Enabled || responders == 0 {
		return false
	}
	if e.cfg.EarlyStop.RespectMinRounds && round < e.cfg.DefaultRounds {
		return false
	}
	s := float64(stopVotes) / float64(responders)
	return s >= e.cfg.EarlyStop.Threshold
}

func (e *Engine) buildResult(ctx context.Context, req *model.DeliberateRequest, debate []model.RoundResponse, votes []model.RoundVote, toolRecords []model.ToolExecutionRecord, lastInfo *model.ConvergenceInfo, completed int, failed bool, aggregator *vote.Aggregator) *model.DeliberationResult {
	result := &model.DeliberationResult{
		Mode:            req.Mode,
		Question:        req.Question,
		Participants:    req.ParticipantIDs(),
		RoundsCompleted: completed,
		FullDebate:      debate,
		ToolExecutions:  toolRecords,
		Status:          model.ResultComplete,
	}
	if failed && completed == 0 {
		result.Status = model.ResultFailed
	}

	if len(votes) > 0 {
		result.VotingResult = aggregator.Aggregate(ctx, votes, completed)
	}
	if req.Mode == model.ModeConference {
		// A decisive vote yields convergence info even when no semantic
		// check ran, so callers always see why the loop ended.
		if lastInfo == nil && result.VotingResult != nil && result.VotingResult.ConsensusReached {
			lastInfo = &model.ConvergenceInfo{DetectionRound: completed}
		}
		if lastInfo != nil {
			convergence.ApplyVotingOverride(lastInfo, result.VotingResult)
			result.ConvergenceInfo = lastInfo
		}
	}
	result.Summary = buildSummary(result)

	if ref, err := e.transcripts.Write(result); err != nil {
		e.logger.Warn("deliberation: transcript write failed", "error", err)
	} else {
		result.TranscriptRef = ref
	}

	// Failed deliberations leave no node behind.
	if e.graph != nil && result.Status == model.ResultComplete {
		e.persist(ctx, req, result, votes)
	}
	return result
}

// persist converts the result into a decision node and stances and hands
// them to the graph. StoreDeliberation absorbs its own failures.
func (e *Engine) persist(ctx context.Context, req *model.DeliberateRequest, result *model.DeliberationResult, votes []model.RoundVote) {
	node := &model.DecisionNode{
		Question:        req.Question,
		ConsensusStatus: consensusStatus(result),
		Participants:    result.Participants,
		TranscriptRef:   result.TranscriptRef,
		Metadata: map[string]any{
			"mode":             string(result.Mode),
			"rounds_completed": result.RoundsCompleted,
		},
	}
	if result.VotingResult != nil {
		node.WinningOption = result.VotingResult.WinningOption
	}

	lastVote := make(map[string]model.Vote)
	for _, rv := range votes {
		lastVote[rv.Participant] = rv.Vote
	}
	finalText := make(map[string]string)
	for _, r := range result.FullDebate {
		if r.Round == result.RoundsCompleted {
			finalText[r.Participant] = r.Response
		}
	}

	stances := make([]model.ParticipantStance, 0, len(result.Participants))
	for _, id := range result.Participants {
		st := model.ParticipantStance{Participant: id, FinalText: finalText[id]}
		if v, ok := lastVote[id]; ok {
			option, confidence, rationale := v.Option, v.Confidence, v.Rationale
			st.VoteOption = &option
			st.Confidence = &confidence
			st.Rationale = &rationale
		}
		stances = append(stances, st)
	}
	e.graph.StoreDeliberation(ctx, node, stances)
}

// consensusStatus picks the persisted status string: voting outcome first,
// then convergence classification, then a plain completion marker.
func consensusStatus(result *model.DeliberationResult) string {
	if v := result.VotingResult; v != nil && v.ConsensusLevel != model.ConsensusNoVotes {
		return string(v.ConsensusLevel)
	}
	if c := result.ConvergenceInfo; c != nil {
		return string(c.Status)
	}
	return "no_consensus"
}

// lastRoundResponses filters the debate down to one round.
func lastRoundResponses(debate []model.RoundResponse, round int) []model.RoundResponse {
	var out []model.RoundResponse
	for _, r := range debate {
		if r.Round == round {
			out = append(out, r)
		}
	}
	return out
}

// buildSummary digests the outcome into prose fields.
func buildSummary(result *model.DeliberationResult) *model.Summary {
	s := &model.Summary{}
	switch {
	case result.Status == model.ResultFailed:
		s.Consensus = "deliberation failed: no participant produced a response"
	case result.VotingResult != nil && result.VotingResult.ConsensusReached:
		s.Consensus = fmt.Sprintf("%s for %q", result.VotingResult.ConsensusLevel, result.VotingResult.WinningOption)
		s.FinalRecommendation = result.VotingResult.WinningOption
		s.KeyAgreements = []string{result.VotingResult.WinningOption}
	case result.VotingResult != nil && result.VotingResult.ConsensusLevel == model.ConsensusTie:
		s.Consensus = "no consensus: tie between options"
		for _, e := range result.VotingResult.FinalTally {
			s.KeyDisagreements = append(s.KeyDisagreements, e.Option)
		}
	case result.ConvergenceInfo != nil && result.ConvergenceInfo.Detected:
		s.Consensus = fmt.Sprintf("positions %s after %d rounds", result.ConvergenceInfo.Status, result.RoundsCompleted)
	default:
		s.Consensus = fmt.Sprintf("no consensus after %d rounds", result.RoundsCompleted)
	}
	return s
}
