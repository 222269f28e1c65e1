// Package feedback learns from execution outcomes. Terminal results
// accumulate into per-(source, type, priority) effectiveness profiles;
// the resulting scores re-rank claimed work within a priority band so
// combinations that historically succeed run sooner.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taskhound/internal/logging"
	"taskhound/internal/queue"
	"taskhound/internal/types"
)

const (
	// MinSamples is the attempt count below which a profile is treated
	// as unknown and scores neutral.
	MinSamples = 5

	// ScoreFloor keeps chronically failing profiles claimable so they
	// are never starved outright.
	ScoreFloor = 0.25

	// neutralScore is returned for unknown profiles.
	neutralScore = 1.0

	// recencyWindow bounds the freshness bonus.
	recencyWindow = 7 * 24 * time.Hour
)

const effectivenessTable = `
CREATE TABLE IF NOT EXISTS effectiveness (
	source TEXT NOT NULL,
	item_type TEXT NOT NULL,
	priority INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	successes INTEGER NOT NULL DEFAULT 0,
	total_exec_seconds REAL NOT NULL DEFAULT 0,
	last_outcome_at DATETIME,
	PRIMARY KEY (source, item_type, priority)
);
`

// Profile is one effectiveness row.
type Profile struct {
	Source        string         `json:"source"`
	ItemType      types.ItemType `json:"item_type"`
	Priority      int            `json:"priority"`
	Attempts      int            `json:"attempts"`
	Successes     int            `json:"successes"`
	MeanExecSecs  float64        `json:"mean_exec_seconds"`
	LastOutcomeAt *time.Time     `json:"last_outcome_at,omitempty"`
}

// SuccessRate is successes over attempts.
func (p *Profile) SuccessRate() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Attempts)
}

// Store is the sqlite-backed effectiveness store.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open initializes the store at the given path.
func Open(path string) (*Store, error) {
	logging.Feedback("Opening effectiveness store at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create feedback directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open effectiveness db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.FeedbackDebug("Failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.FeedbackDebug("Failed to set journal_mode: %v", err)
	}

	if _, err := db.Exec(effectivenessTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create effectiveness table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Record folds one terminal outcome into the item's profile. Non-
// terminal statuses are ignored; retried attempts only count once they
// settle.
func (s *Store) Record(ctx context.Context, item *types.WorkItem, status types.ItemStatus, outcome *types.ExecutionOutcome) error {
	if !status.Terminal() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	success := 0
	if status == types.StatusCompleted {
		success = 1
	}
	execSeconds := 0.0
	if outcome != nil {
		execSeconds = outcome.ExecutionTime.Seconds()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO effectiveness (source, item_type, priority, attempts, successes, total_exec_seconds, last_outcome_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT(source, item_type, priority) DO UPDATE SET
			attempts = attempts + 1,
			successes = successes + excluded.successes,
			total_exec_seconds = total_exec_seconds + excluded.total_exec_seconds,
			last_outcome_at = excluded.last_outcome_at`,
		item.Source, item.Type, item.Priority, success, execSeconds, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record effectiveness: %w", err)
	}

	logging.FeedbackDebug("Recorded %s outcome for (%s, %s, %d)", status, item.Source, item.Type, item.Priority)
	return nil
}

// Score rates a profile for claim re-ranking. Unknown profiles score
// neutral; known ones blend success rate with a recency-weighted volume
// bonus and never drop below ScoreFloor.
func (s *Store) Score(source string, itemType types.ItemType, priority int) float64 {
	p, err := s.profile(source, itemType, priority)
	if err != nil {
		logging.FeedbackDebug("Score lookup failed for (%s, %s, %d): %v", source, itemType, priority, err)
		return neutralScore
	}
	if p == nil || p.Attempts < MinSamples {
		return neutralScore
	}

	score := p.SuccessRate()

	// Volume bonus: more evidence, slightly higher confidence, capped.
	volume := math.Min(float64(p.Attempts)/50.0, 0.2)

	// Recency: stale profiles decay toward the bare success rate.
	recency := 0.0
	if p.LastOutcomeAt != nil {
		age := time.Since(*p.LastOutcomeAt)
		if age < recencyWindow {
			recency = (1 - age.Seconds()/recencyWindow.Seconds()) * 0.1
		}
	}
	score += volume*score + recency

	if score < ScoreFloor {
		score = ScoreFloor
	}
	return score
}

func (s *Store) profile(source string, itemType types.ItemType, priority int) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &Profile{Source: source, ItemType: itemType, Priority: priority}
	var totalSecs float64
	var last sql.NullTime
	err := s.db.QueryRow(
		`SELECT attempts, successes, total_exec_seconds, last_outcome_at
		 FROM effectiveness WHERE source = ? AND item_type = ? AND priority = ?`,
		source, itemType, priority,
	).Scan(&p.Attempts, &p.Successes, &totalSecs, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Attempts > 0 {
		p.MeanExecSecs = totalSecs / float64(p.Attempts)
	}
	if last.Valid {
		t := last.Time
		p.LastOutcomeAt = &t
	}
	return p, nil
}

// Profiles returns every effectiveness row, for status reporting.
func (s *Store) Profiles(ctx context.Context) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, item_type, priority, attempts, successes, total_exec_seconds, last_outcome_at
		 FROM effectiveness ORDER BY source, item_type, priority`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		var totalSecs float64
		var last sql.NullTime
		if err := rows.Scan(&p.Source, &p.ItemType, &p.Priority, &p.Attempts, &p.Successes, &totalSecs, &last); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		if p.Attempts > 0 {
			p.MeanExecSecs = totalSecs / float64(p.Attempts)
		}
		if last.Valid {
			t := last.Time
			p.LastOutcomeAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Ranker adapts Score to the queue's claim re-ranking hook.
func (s *Store) Ranker() queue.ScoreFunc {
	return func(source string, itemType types.ItemType, priority int) float64 {
		return s.Score(source, itemType, priority)
	}
}
