// Package queue implements the durable work item store. It owns the
// WorkItem lifecycle: enqueue with duplicate suppression, transactional
// claiming for dispatch, outcome recording with the retry policy applied
// by the caller, and administrative resets. SQLite is the single source
// of truth; claim and record operations serialize conflicting
// transitions so concurrent dispatchers never race on the same item.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taskhound/internal/logging"
	"taskhound/internal/types"
)

// ScoreFunc rates a (source, type, priority) combination for claim-order
// re-ranking. Higher is better. A nil ScoreFunc means plain
// priority-then-age ordering.
type ScoreFunc func(source string, itemType types.ItemType, priority int) float64

// Stats summarizes queue contents.
type Stats struct {
	ByStatus      map[types.ItemStatus]int `json:"by_status"`
	Total         int                      `json:"total"`
	UpdatedLast24 int                      `json:"updated_last_24h"`
}

// Queue is the sqlite-backed work item store.
type Queue struct {
	db     *sql.DB
	mu     sync.Mutex // serializes claim/record transactions
	dbPath string
}

// Open initializes the queue database at the given path, creating the
// parent directory and schema as needed. Use ":memory:" for tests.
func Open(path string) (*Queue, error) {
	timer := logging.StartTimer(logging.CategoryQueue, "Open")
	defer timer.Stop()

	logging.Queue("Opening work queue at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.QueueDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.QueueDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.QueueDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	q := &Queue{db: db, dbPath: path}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	logging.Queue("Work queue ready (schema v%d)", CurrentSchemaVersion)
	return q, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	logging.Queue("Closing work queue")
	return q.db.Close()
}

// Enqueue inserts a new pending item. Returns ErrDuplicate when a
// non-terminal item with the same (source, source_ref) already exists.
func (q *Queue) Enqueue(ctx context.Context, item types.WorkItem) error {
	item.Status = types.StatusPending
	item.Attempts = 0
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid work item: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_items WHERE source = ? AND source_ref = ? AND status NOT IN (?, ?)`,
		item.Source, item.SourceRef, types.StatusCompleted, types.StatusFailed,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to check for duplicates: %w", err)
	}
	if existing > 0 {
		return ErrDuplicate
	}

	contextJSON, err := marshalContext(item.Context)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO work_items
		 (id, item_type, title, description, priority, status, source, source_ref, context_json, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		item.ID, item.Type, item.Title, item.Description, item.Priority, item.Status,
		item.Source, item.SourceRef, contextJSON, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert work item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue: %w", err)
	}

	logging.QueueDebug("Enqueued %s (%s/%s, priority=%d)", item.ID, item.Source, item.SourceRef, item.Priority)
	return nil
}

// ClaimNext atomically selects up to n pending items ordered by priority
// (descending) then created_at (ascending), transitions them to active
// and returns them. The optional score function re-ranks items within
// the same priority band only, so explicit priority is never overridden.
func (q *Queue) ClaimNext(ctx context.Context, n int, score ScoreFunc) ([]types.WorkItem, error) {
	if n <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, item_type, title, description, priority, status, source, source_ref,
		        context_json, attempts, created_at, updated_at
		 FROM work_items
		 WHERE status = ?
		 ORDER BY priority DESC, created_at ASC
		 LIMIT ?`,
		types.StatusPending, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}

	var claimed []types.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate pending items: %w", err)
	}
	rows.Close()

	now := time.Now().UTC()
	for i := range claimed {
		claimed[i].Status = types.StatusActive
		claimed[i].UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`UPDATE work_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			types.StatusActive, now, claimed[i].ID, types.StatusPending,
		); err != nil {
			return nil, fmt.Errorf("failed to mark item active: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	rankClaimed(claimed, score)

	logging.QueueDebug("Claimed %d item(s)", len(claimed))
	return claimed, nil
}

// rankClaimed orders the claimed batch for dispatch. Priority descending
// always wins; the score breaks ties within a band, and created_at
// breaks remaining ties. Urgent items are left strictly first.
func rankClaimed(items []types.WorkItem, score ScoreFunc) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := &items[i], &items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if score != nil && a.Priority < types.PriorityUrgent {
			sa := score(a.Source, a.Type, a.Priority)
			sb := score(b.Source, b.Type, b.Priority)
			if sa != sb {
				return sa > sb
			}
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// RecordOutcome applies one dispatch attempt's result to a claimed
// item. Success moves the item to completed. Failure increments attempts
// and either requeues it (attempts < maxRetries) or marks it failed
// terminally. The outcome is appended to the item's attempt history.
// Items that are not active are rejected with ErrNotActive; a terminal
// item only becomes mutable again through Reset.
func (q *Queue) RecordOutcome(ctx context.Context, id string, outcome *types.ExecutionOutcome, maxRetries int) (types.ItemStatus, error) {
	if outcome == nil {
		return "", fmt.Errorf("outcome required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin record transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	var status types.ItemStatus
	err = tx.QueryRowContext(ctx,
		`SELECT attempts, status FROM work_items WHERE id = ?`, id,
	).Scan(&attempts, &status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load work item: %w", err)
	}
	if status != types.StatusActive {
		return "", fmt.Errorf("%w: %s is %s", ErrNotActive, id, status)
	}

	attempts++
	newStatus := types.StatusCompleted
	if !outcome.Success {
		if attempts < maxRetries {
			newStatus = types.StatusPending
		} else {
			newStatus = types.StatusFailed
		}
	}

	filesJSON, err := json.Marshal(outcome.FilesModified)
	if err != nil {
		return "", fmt.Errorf("failed to encode files list: %w", err)
	}
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outcomes (work_item_id, attempt, success, output, files_json, exec_seconds, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, attempts, outcome.Success, outcome.Output, string(filesJSON),
		outcome.ExecutionTime.Seconds(), outcome.Error, now,
	); err != nil {
		return "", fmt.Errorf("failed to append outcome: %w", err)
	}

	var resultJSON interface{}
	if newStatus.Terminal() {
		data, err := json.Marshal(outcome)
		if err != nil {
			return "", fmt.Errorf("failed to encode outcome: %w", err)
		}
		resultJSON = string(data)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE work_items SET status = ?, attempts = ?, updated_at = ?, result_json = COALESCE(?, result_json)
		 WHERE id = ?`,
		newStatus, attempts, now, resultJSON, id,
	); err != nil {
		return "", fmt.Errorf("failed to update work item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit outcome: %w", err)
	}

	logging.Queue("Recorded outcome for %s: success=%v attempts=%d status=%s", id, outcome.Success, attempts, newStatus)
	return newStatus, nil
}

// ReleaseActive returns active items to pending without touching their
// attempt counts. Used on shutdown for dispatches that were abandoned
// mid-flight so the items become claimable again.
func (q *Queue) ReleaseActive(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range ids {
		res, err := q.db.ExecContext(ctx,
			`UPDATE work_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			types.StatusPending, now, id, types.StatusActive,
		)
		if err != nil {
			return fmt.Errorf("failed to release item %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			logging.Queue("Released abandoned item %s back to pending", id)
		}
	}
	return nil
}

// Reset administratively returns a terminal item to pending with a
// cleared attempt count. ErrNotTerminal if the item is still live.
func (q *Queue) Reset(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var status types.ItemStatus
	err := q.db.QueryRowContext(ctx, `SELECT status FROM work_items WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load work item: %w", err)
	}
	if !status.Terminal() {
		return ErrNotTerminal
	}

	_, err = q.db.ExecContext(ctx,
		`UPDATE work_items SET status = ?, attempts = 0, result_json = NULL, updated_at = ? WHERE id = ?`,
		types.StatusPending, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset work item: %w", err)
	}

	logging.Queue("Reset %s to pending", id)
	return nil
}

// Get loads a single work item by id.
func (q *Queue) Get(ctx context.Context, id string) (*types.WorkItem, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, item_type, title, description, priority, status, source, source_ref,
		        context_json, attempts, created_at, updated_at
		 FROM work_items WHERE id = ?`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var resultJSON sql.NullString
	err = q.db.QueryRowContext(ctx, `SELECT result_json FROM work_items WHERE id = ?`, id).Scan(&resultJSON)
	if err == nil && resultJSON.Valid {
		var outcome types.ExecutionOutcome
		if jerr := json.Unmarshal([]byte(resultJSON.String), &outcome); jerr == nil {
			item.Result = &outcome
		}
	}
	return &item, nil
}

// HasNonTerminal reports whether a non-terminal item exists for the
// given source reference. Used by the aggregator for pre-enqueue
// filtering; Enqueue still performs the authoritative check.
func (q *Queue) HasNonTerminal(ctx context.Context, source, sourceRef string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_items WHERE source = ? AND source_ref = ? AND status NOT IN (?, ?)`,
		source, sourceRef, types.StatusCompleted, types.StatusFailed,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check source reference: %w", err)
	}
	return count > 0, nil
}

// History returns the recorded attempt outcomes for an item in attempt
// order.
func (q *Queue) History(ctx context.Context, id string) ([]types.ExecutionOutcome, error) {
	var exists int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check work item: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT success, output, files_json, exec_seconds, error
		 FROM outcomes WHERE work_item_id = ? ORDER BY attempt ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcome history: %w", err)
	}
	defer rows.Close()

	var history []types.ExecutionOutcome
	for rows.Next() {
		var out types.ExecutionOutcome
		var filesJSON sql.NullString
		var execSeconds float64
		var errMsg sql.NullString
		if err := rows.Scan(&out.Success, &out.Output, &filesJSON, &execSeconds, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		out.WorkItemID = id
		out.ExecutionTime = time.Duration(execSeconds * float64(time.Second))
		out.Error = errMsg.String
		if filesJSON.Valid && filesJSON.String != "" {
			if jerr := json.Unmarshal([]byte(filesJSON.String), &out.FilesModified); jerr != nil {
				logging.QueueDebug("Failed to decode files list for %s: %v", id, jerr)
			}
		}
		history = append(history, out)
	}
	return history, rows.Err()
}

// GetStats returns counts by status plus recent activity.
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[types.ItemStatus]int)}

	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status types.ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_items WHERE updated_at >= ?`, cutoff,
	).Scan(&stats.UpdatedLast24); err != nil {
		return nil, fmt.Errorf("failed to count recent items: %w", err)
	}

	return stats, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (types.WorkItem, error) {
	var item types.WorkItem
	var description sql.NullString
	var contextJSON sql.NullString

	err := row.Scan(
		&item.ID, &item.Type, &item.Title, &description, &item.Priority, &item.Status,
		&item.Source, &item.SourceRef, &contextJSON, &item.Attempts,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}
	item.Description = description.String
	if contextJSON.Valid && contextJSON.String != "" {
		if jerr := json.Unmarshal([]byte(contextJSON.String), &item.Context); jerr != nil {
			logging.QueueDebug("Failed to decode context for %s: %v", item.ID, jerr)
		}
	}
	return item, nil
}

func marshalContext(ctx map[string]string) (interface{}, error) {
	if len(ctx) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item context: %w", err)
	}
	return string(data), nil
}
