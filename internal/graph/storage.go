// Package graph is the decision graph memory: durable storage of past
// deliberations, similarity edges between them, caching, background edge
// computation, and token-budgeted retrieval for new questions.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/counselhq/counsel/internal/model"
	"github.com/counselhq/counsel/migrations"
)

const schemaVersion = "1"

// MaxEdgesPerSource caps how many outgoing similarity edges a decision keeps.
const MaxEdgesPerSource = 20

// Store persists decision nodes, stances and similarity edges in a single
// SQLite file. Writes are serialized by a mutex; reads go through WAL and
// never block writers.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// ScoredNode pairs a decision with a similarity score. The pairing is
// contractual for retrieval callers.
type ScoredNode struct {
	Node  model.DecisionNode
	Score float64
}

// OpenStore opens (creating if needed) the decision store at path and
// applies the embedded schema. Use ":memory:" for tests.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("graph: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graph: open store: %w", err)
	}
	// modernc.org/sqlite serializes at the driver level; one connection
	// keeps in-memory databases coherent too.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("graph: %s: %w", pragma, err)
		}
	}

	entries, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("graph: list migrations: %w", err)
	}
	sort.Strings(entries)
	for _, name := range entries {
		ddl, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("graph: read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(ddl)); err != nil {
			return fmt.Errorf("graph: apply migration %s: %w", name, err)
		}
	}

	_, err = s.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, schemaVersion)
	if err != nil {
		return fmt.Errorf("graph: record schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SchemaVersion reads the version recorded in the meta table.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("graph: read schema version: %w", err)
	}
	return v, nil
}

// SaveDecision persists a node and its stances atomically. A zero node ID
// is assigned; a zero timestamp is set to now.
func (s *Store) SaveDecision(ctx context.Context, node *model.DecisionNode, stances []model.ParticipantStance) (uuid.UUID, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	if node.Timestamp.IsZero() {
		node.Timestamp = time.Now().UTC()
	}
	if node.QuestionNormalized == "" {
		node.QuestionNormalized = model.NormalizeQuestion(node.Question)
	}

	participants, err := json.Marshal(node.Participants)
	if err != nil {
		return uuid.Nil, fmt.Errorf("graph: marshal participants: %w", err)
	}
	metadata, err := json.Marshal(node.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("graph: marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("graph: begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO decision_nodes
		 (id, question, question_normalized, consensus_status, winning_option,
		  participants, transcript_ref, timestamp, metadata_blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID.String(), node.Question, node.QuestionNormalized,
		node.ConsensusStatus, node.WinningOption, string(participants),
		node.TranscriptRef, node.Timestamp.Format(time.RFC3339Nano), string(metadata))
	if err != nil {
		return uuid.Nil, fmt.Errorf("graph: insert decision: %w", err)
	}

	for _, st := range stances {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO participant_stances
			 (decision_id, participant_id, vote_option, confidence, rationale, final_text)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			node.ID.String(), st.Participant, st.VoteOption, st.Confidence, st.Rationale, st.FinalText)
		if err != nil {
			return uuid.Nil, fmt.Errorf("graph: insert stance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("graph: commit save: %w", err)
	}
	return node.ID, nil
}

// GetDecision fetches one node by id.
func (s *Store) GetDecision(ctx context.Context, id uuid.UUID) (*model.DecisionNode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, question, question_normalized, consensus_status, winning_option,
		        participants, transcript_ref, timestamp, metadata_blob
		 FROM decision_nodes WHERE id = ?`, id.String())
	node, err := scanNode(row)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// GetStances returns the stances attached to a decision.
func (s *Store) GetStances(ctx context.Context, id uuid.UUID) ([]model.ParticipantStance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision_id, participant_id, vote_option, confidence, rationale, final_text
		 FROM participant_stances WHERE decision_id = ? ORDER BY participant_id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("graph: query stances: %w", err)
	}
	defer rows.Close()

	var out []model.ParticipantStance
	for rows.Next() {
		var st model.ParticipantStance
		var decisionID string
		if err := rows.Scan(&decisionID, &st.Participant, &st.VoteOption, &st.Confidence, &st.Rationale, &st.FinalText); err != nil {
			return nil, fmt.Errorf("graph: scan stance: %w", err)
		}
		st.DecisionID, _ = uuid.Parse(decisionID)
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetRecent returns up to limit nodes ordered by timestamp descending.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]model.DecisionNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, question_normalized, consensus_status, winning_option,
		        participants, transcript_ref, timestamp, metadata_blob
		 FROM decision_nodes ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("graph: query recent: %w", err)
	}
	defer rows.Close()
	return collectNodes(rows)
}

// GetSimilar returns nodes connected to source by an edge with score >=
// minScore, best first.
func (s *Store) GetSimilar(ctx context.Context, sourceID uuid.UUID, minScore float64, limit int) ([]ScoredNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.question, n.question_normalized, n.consensus_status, n.winning_option,
		        n.participants, n.transcript_ref, n.timestamp, n.metadata_blob, e.similarity_score
		 FROM decision_similarities e
		 JOIN decision_nodes n ON n.id = e.target_id
		 WHERE e.source_id = ? AND e.similarity_score >= ?
		 ORDER BY e.similarity_score DESC LIMIT ?`,
		sourceID.String(), minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("graph: query similar: %w", err)
	}
	defer rows.Close()

	var out []ScoredNode
	for rows.Next() {
		var sn ScoredNode
		if err := scanNodeFields(rows, &sn.Node, &sn.Score); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// ReplaceSimilarities swaps the outgoing edge set of source. Scores are
// clamped, self-edges dropped, and only the top MaxEdgesPerSource by score
// survive.
func (s *Store) ReplaceSimilarities(ctx context.Context, sourceID uuid.UUID, edges []model.DecisionSimilarity) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	kept := make([]model.DecisionSimilarity, 0, len(edges))
	for _, e := range edges {
		if e.TargetID == sourceID {
			continue
		}
		e.Score = model.ClampScore(e.Score)
		kept = append(kept, e)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > MaxEdgesPerSource {
		kept = kept[:MaxEdgesPerSource]
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM decision_similarities WHERE source_id = ?`, sourceID.String()); err != nil {
		return fmt.Errorf("graph: delete edges: %w", err)
	}
	for _, e := range kept {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO decision_similarities (source_id, target_id, similarity_score) VALUES (?, ?, ?)`,
			sourceID.String(), e.TargetID.String(), e.Score)
		if err != nil {
			return fmt.Errorf("graph: insert edge: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("graph: commit replace: %w", err)
	}
	return nil
}

// CascadeDelete removes a node, its stances and all edges touching it.
func (s *Store) CascadeDelete(ctx context.Context, id uuid.UUID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM decision_nodes WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("graph: cascade delete: %w", err)
	}
	return nil
}

// NodeCount returns the number of persisted decisions.
func (s *Store) NodeCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("graph: count nodes: %w", err)
	}
	return n, nil
}

// EdgeCount returns the number of similarity edges.
func (s *Store) EdgeCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_similarities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("graph: count edges: %w", err)
	}
	return n, nil
}

// AvgSimilarity returns the mean edge score, 0 when no edges exist.
func (s *Store) AvgSimilarity(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(similarity_score) FROM decision_similarities`).Scan(&avg); err != nil {
		return 0, fmt.Errorf("graph: avg similarity: %w", err)
	}
	return avg.Float64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*model.DecisionNode, error) {
	var node model.DecisionNode
	var id, participants, metadata, ts string
	err := row.Scan(&id, &node.Question, &node.QuestionNormalized, &node.ConsensusStatus,
		&node.WinningOption, &participants, &node.TranscriptRef, &ts, &metadata)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("graph: decision not found")
	}
	if err != nil {
		return nil, fmt.Errorf("graph: scan decision: %w", err)
	}
	return finishNode(&node, id, participants, metadata, ts)
}

func scanNodeFields(rows *sql.Rows, node *model.DecisionNode, score *float64) error {
	var id, participants, metadata, ts string
	err := rows.Scan(&id, &node.Question, &node.QuestionNormalized, &node.ConsensusStatus,
		&node.WinningOption, &participants, &node.TranscriptRef, &ts, &metadata, score)
	if err != nil {
		return fmt.Errorf("graph: scan decision: %w", err)
	}
	_, err = finishNode(node, id, participants, metadata, ts)
	return err
}

func finishNode(node *model.DecisionNode, id, participants, metadata, ts string) (*model.DecisionNode, error) {
	var err error
	if node.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("graph: parse node id: %w", err)
	}
	if node.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, fmt.Errorf("graph: parse timestamp: %w", err)
	}
	if err = json.Unmarshal([]byte(participants), &node.Participants); err != nil {
		return nil, fmt.Errorf("graph: unmarshal participants: %w", err)
	}
	if metadata != "" && metadata != "null" {
		if err = json.Unmarshal([]byte(metadata), &node.Metadata); err != nil {
			return nil, fmt.Errorf("graph: unmarshal metadata: %w", err)
		}
	}
	return node, nil
}

func collectNodes(rows *sql.Rows) ([]model.DecisionNode, error) {
	var out []model.DecisionNode
	for rows.Next() {
		var node model.DecisionNode
		var id, participants, metadata, ts string
		err := rows.Scan(&id, &node.Question, &node.QuestionNormalized, &node.ConsensusStatus,
			&node.WinningOption, &participants, &node.TranscriptRef, &ts, &metadata)
		if err != nil {
			return nil, fmt.Errorf("graph: scan decision: %w", err)
		}
		if _, err := finishNode(&node, id, participants, metadata, ts); err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}
