package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rinlabs/rin/pkg/models"
)

// SQLite is a Store backed by a single SQLite database in WAL mode.
// Envelopes and rosters are stored as JSON columns; transitions are guarded
// with conditional UPDATE ... WHERE state/status checks.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and runs
// migrations.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_state TEXT NOT NULL,
			active_tool_type TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			interaction_type TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE TABLE IF NOT EXISTS tool_operations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_type TEXT NOT NULL,
			content_type TEXT NOT NULL,
			state TEXT NOT NULL,
			step TEXT NOT NULL DEFAULT '',
			input TEXT,
			output TEXT,
			metadata TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_session ON tool_operations(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_state ON tool_operations(state)`,
		`CREATE TABLE IF NOT EXISTS tool_items (
			id TEXT PRIMARY KEY,
			operation_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			content_type TEXT NOT NULL,
			schedule_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			status TEXT NOT NULL,
			content TEXT,
			scheduled_time TEXT,
			executed_time TEXT,
			posted_time TEXT,
			claimed_at TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			api_response TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_operation_state ON tool_items(operation_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_items_operation_status ON tool_items(operation_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_items_schedule ON tool_items(schedule_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_due ON tool_items(status, scheduled_time)`,
		`CREATE TABLE IF NOT EXISTS scheduled_operations (
			id TEXT PRIMARY KEY,
			operation_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			content_type TEXT NOT NULL,
			state TEXT NOT NULL,
			type TEXT NOT NULL,
			start_time TEXT,
			interval_ns INTEGER NOT NULL DEFAULT 0,
			total_items INTEGER NOT NULL DEFAULT 0,
			cron_spec TEXT NOT NULL DEFAULT '',
			monitor TEXT,
			pending_items TEXT,
			approved_items TEXT,
			rejected_items TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_session ON scheduled_operations(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_state ON scheduled_operations(state, type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_state, active_tool_type, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, string(session.AgentState), session.ActiveToolType,
		encodeJSON(session.Metadata), encodeTime(session.CreatedAt), encodeTime(session.UpdatedAt))
	return wrapDB(err)
}

func (s *SQLite) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_state, active_tool_type, metadata, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)
	var (
		session   models.Session
		state     string
		metadata  sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&session.ID, &state, &session.ActiveToolType, &metadata, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDB(err)
	}
	session.AgentState = models.AgentState(state)
	decodeJSON(metadata, &session.Metadata)
	session.CreatedAt = decodeTime(createdAt)
	session.UpdatedAt = decodeTime(updatedAt)
	return &session, nil
}

func (s *SQLite) UpdateSession(ctx context.Context, session *models.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET agent_state = ?, active_tool_type = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		string(session.AgentState), session.ActiveToolType,
		encodeJSON(session.Metadata), encodeTime(session.UpdatedAt), session.ID)
	if err != nil {
		return wrapDB(err)
	}
	return requireRow(res)
}

func (s *SQLite) AppendMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, timestamp, interaction_type, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content,
		encodeTime(msg.Timestamp), string(msg.InteractionType), encodeJSON(msg.Metadata))
	return wrapDB(err)
}

func (s *SQLite) ListMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `SELECT id, session_id, role, content, timestamp, interaction_type, metadata
		 FROM messages WHERE session_id = ? ORDER BY timestamp DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	var out []*models.Message
	for rows.Next() {
		var (
			msg       models.Message
			role      string
			ts        string
			kind      string
			metadata  sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &ts, &kind, &metadata); err != nil {
			return nil, wrapDB(err)
		}
		msg.Role = models.Role(role)
		msg.Timestamp = decodeTime(ts)
		msg.InteractionType = models.InteractionType(kind)
		decodeJSON(metadata, &msg.Metadata)
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	// Newest-first query for the LIMIT, oldest-first for callers.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLite) CreateOperation(ctx context.Context, op *models.ToolOperation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_operations (id, session_id, tool_type, content_type, state, step, input, output, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.SessionID, op.ToolType, op.ContentType, string(op.State), op.Step,
		encodeJSON(op.Input), encodeJSON(op.Output), encodeJSON(op.Metadata),
		encodeTime(op.CreatedAt), encodeTime(op.UpdatedAt))
	return wrapDB(err)
}

func (s *SQLite) GetOperation(ctx context.Context, id string) (*models.ToolOperation, error) {
	return s.scanOperation(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, tool_type, content_type, state, step, input, output, metadata, created_at, updated_at
		 FROM tool_operations WHERE id = ?`, id))
}

func (s *SQLite) GetActiveOperation(ctx context.Context, sessionID string) (*models.ToolOperation, error) {
	return s.scanOperation(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, tool_type, content_type, state, step, input, output, metadata, created_at, updated_at
		 FROM tool_operations
		 WHERE session_id = ? AND state NOT IN ('completed', 'cancelled', 'error')
		 ORDER BY created_at DESC LIMIT 1`, sessionID))
}

func (s *SQLite) scanOperation(row *sql.Row) (*models.ToolOperation, error) {
	var (
		op       models.ToolOperation
		state    string
		input    sql.NullString
		output   sql.NullString
		metadata sql.NullString
		created  string
		updated  string
	)
	err := row.Scan(&op.ID, &op.SessionID, &op.ToolType, &op.ContentType, &state, &op.Step,
		&input, &output, &metadata, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDB(err)
	}
	op.State = models.OperationState(state)
	decodeJSON(input, &op.Input)
	decodeJSON(output, &op.Output)
	decodeJSON(metadata, &op.Metadata)
	op.CreatedAt = decodeTime(created)
	op.UpdatedAt = decodeTime(updated)
	return &op, nil
}

func (s *SQLite) UpdateOperation(ctx context.Context, op *models.ToolOperation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_operations SET state = ?, step = ?, input = ?, output = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		string(op.State), op.Step, encodeJSON(op.Input), encodeJSON(op.Output),
		encodeJSON(op.Metadata), encodeTime(op.UpdatedAt), op.ID)
	if err != nil {
		return wrapDB(err)
	}
	return requireRow(res)
}

func (s *SQLite) UpdateOperationGuarded(ctx context.Context, op *models.ToolOperation, expect models.OperationState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_operations SET state = ?, step = ?, input = ?, output = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		string(op.State), op.Step, encodeJSON(op.Input), encodeJSON(op.Output),
		encodeJSON(op.Metadata), encodeTime(op.UpdatedAt), op.ID, string(expect))
	if err != nil {
		return wrapDB(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDB(err)
	}
	if affected == 0 {
		return fmt.Errorf("operation %s not in state %s: %w", op.ID, expect, ErrConflict)
	}
	return nil
}

func (s *SQLite) InsertItems(ctx context.Context, items []*models.ToolItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB(err)
	}
	defer tx.Rollback()
	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tool_items (id, operation_id, session_id, content_type, schedule_id, state, status, content,
				scheduled_time, executed_time, posted_time, claimed_at, retry_count, last_error, api_response, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.OperationID, item.SessionID, item.ContentType, item.ScheduleID,
			string(item.State), string(item.Status), encodeJSON(item.Content),
			encodeTimePtr(item.ScheduledTime), encodeTimePtr(item.ExecutedTime),
			encodeTimePtr(item.PostedTime), encodeTimePtr(item.ClaimedAt),
			item.RetryCount, item.LastError, encodeJSON(item.APIResponse),
			encodeTime(item.CreatedAt), encodeTime(item.UpdatedAt)); err != nil {
			return wrapDB(err)
		}
	}
	return wrapDB(tx.Commit())
}

const itemColumns = `id, operation_id, session_id, content_type, schedule_id, state, status, content,
	scheduled_time, executed_time, posted_time, claimed_at, retry_count, last_error, api_response, created_at, updated_at`

func (s *SQLite) GetItem(ctx context.Context, id string) (*models.ToolItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM tool_items WHERE id = ?`, id)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (s *SQLite) ListItems(ctx context.Context, filter ItemFilter) ([]*models.ToolItem, error) {
	query := `SELECT ` + itemColumns + ` FROM tool_items WHERE 1=1`
	var args []any
	if filter.OperationID != "" {
		query += ` AND operation_id = ?`
		args = append(args, filter.OperationID)
	}
	if filter.ScheduleID != "" {
		query += ` AND schedule_id = ?`
		args = append(args, filter.ScheduleID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *SQLite) UpdateItem(ctx context.Context, item *models.ToolItem) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_items SET schedule_id = ?, state = ?, status = ?, content = ?, scheduled_time = ?,
			executed_time = ?, posted_time = ?, claimed_at = ?, retry_count = ?, last_error = ?,
			api_response = ?, updated_at = ?
		 WHERE id = ?`,
		item.ScheduleID, string(item.State), string(item.Status), encodeJSON(item.Content),
		encodeTimePtr(item.ScheduledTime), encodeTimePtr(item.ExecutedTime),
		encodeTimePtr(item.PostedTime), encodeTimePtr(item.ClaimedAt),
		item.RetryCount, item.LastError, encodeJSON(item.APIResponse),
		encodeTime(item.UpdatedAt), item.ID)
	if err != nil {
		return wrapDB(err)
	}
	return requireRow(res)
}

func (s *SQLite) UpdateItemsState(ctx context.Context, ids []string, state models.OperationState, status models.OperationStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB(err)
	}
	defer tx.Rollback()
	now := encodeTime(time.Now().UTC())
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE tool_items SET state = ?, status = ?, updated_at = ? WHERE id = ?`,
			string(state), string(status), now, id)
		if err != nil {
			return wrapDB(err)
		}
		if err := requireRow(res); err != nil {
			return fmt.Errorf("item %s: %w", id, err)
		}
	}
	return wrapDB(tx.Commit())
}

func (s *SQLite) ListDueItems(ctx context.Context, now time.Time) ([]*models.ToolItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.operation_id, i.session_id, i.content_type, i.schedule_id, i.state, i.status, i.content,
			i.scheduled_time, i.executed_time, i.posted_time, i.claimed_at, i.retry_count, i.last_error,
			i.api_response, i.created_at, i.updated_at
		 FROM tool_items i
		 JOIN scheduled_operations sch ON sch.id = i.schedule_id
		 WHERE i.status = ? AND i.scheduled_time IS NOT NULL AND i.scheduled_time <= ? AND sch.state = ?
		 ORDER BY i.scheduled_time, i.id`,
		string(models.StatusScheduled), encodeTime(now), string(models.ScheduleStateActive))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *SQLite) ClaimItem(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_items SET status = ?, claimed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.StatusClaimed), encodeTime(now), encodeTime(now),
		id, string(models.StatusScheduled))
	if err != nil {
		return false, wrapDB(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapDB(err)
	}
	return affected == 1, nil
}

func (s *SQLite) ReclaimStaleClaims(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_items SET status = ?, claimed_at = NULL, updated_at = ?
		 WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?`,
		string(models.StatusScheduled), encodeTime(time.Now().UTC()),
		string(models.StatusClaimed), encodeTime(cutoff))
	if err != nil {
		return 0, wrapDB(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDB(err)
	}
	return int(affected), nil
}

func (s *SQLite) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_operations (id, operation_id, session_id, content_type, state, type, start_time,
			interval_ns, total_items, cron_spec, monitor, pending_items, approved_items, rejected_items, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID, schedule.OperationID, schedule.SessionID, schedule.ContentType,
		string(schedule.State), string(schedule.Type), encodeTimePtr(schedule.StartTime),
		int64(schedule.Interval), schedule.TotalItems, schedule.CronSpec,
		encodeJSON(schedule.Monitor), encodeJSON(schedule.PendingItemIDs),
		encodeJSON(schedule.ApprovedItemIDs), encodeJSON(schedule.RejectedItemIDs),
		encodeTime(schedule.CreatedAt), encodeTime(schedule.UpdatedAt))
	return wrapDB(err)
}

const scheduleColumns = `id, operation_id, session_id, content_type, state, type, start_time,
	interval_ns, total_items, cron_spec, monitor, pending_items, approved_items, rejected_items, created_at, updated_at`

func (s *SQLite) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM scheduled_operations WHERE id = ?`, id)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	schedules, err := scanSchedules(rows)
	if err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, ErrNotFound
	}
	return schedules[0], nil
}

func (s *SQLite) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_operations SET state = ?, start_time = ?, interval_ns = ?, total_items = ?,
			cron_spec = ?, monitor = ?, pending_items = ?, approved_items = ?, rejected_items = ?, updated_at = ?
		 WHERE id = ?`,
		string(schedule.State), encodeTimePtr(schedule.StartTime), int64(schedule.Interval),
		schedule.TotalItems, schedule.CronSpec, encodeJSON(schedule.Monitor),
		encodeJSON(schedule.PendingItemIDs), encodeJSON(schedule.ApprovedItemIDs),
		encodeJSON(schedule.RejectedItemIDs), encodeTime(schedule.UpdatedAt), schedule.ID)
	if err != nil {
		return wrapDB(err)
	}
	return requireRow(res)
}

func (s *SQLite) ListActiveMonitors(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_operations WHERE state = ? AND type = ? ORDER BY id`,
		string(models.ScheduleStateActive), string(models.ScheduleMonitoring))
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *SQLite) PurgeSchedules(ctx context.Context, sessionID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapDB(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tool_items WHERE schedule_id IN (SELECT id FROM scheduled_operations WHERE session_id = ?)`,
		sessionID); err != nil {
		return 0, wrapDB(err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scheduled_operations WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, wrapDB(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDB(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapDB(err)
	}
	return int(affected), nil
}

func scanItems(rows *sql.Rows) ([]*models.ToolItem, error) {
	var out []*models.ToolItem
	for rows.Next() {
		var (
			item        models.ToolItem
			state       string
			status      string
			content     sql.NullString
			scheduled   sql.NullString
			executed    sql.NullString
			posted      sql.NullString
			claimed     sql.NullString
			apiResponse sql.NullString
			created     string
			updated     string
		)
		if err := rows.Scan(&item.ID, &item.OperationID, &item.SessionID, &item.ContentType,
			&item.ScheduleID, &state, &status, &content, &scheduled, &executed, &posted,
			&claimed, &item.RetryCount, &item.LastError, &apiResponse, &created, &updated); err != nil {
			return nil, wrapDB(err)
		}
		item.State = models.OperationState(state)
		item.Status = models.OperationStatus(status)
		decodeJSON(content, &item.Content)
		item.ScheduledTime = decodeTimePtr(scheduled)
		item.ExecutedTime = decodeTimePtr(executed)
		item.PostedTime = decodeTimePtr(posted)
		item.ClaimedAt = decodeTimePtr(claimed)
		decodeJSON(apiResponse, &item.APIResponse)
		item.CreatedAt = decodeTime(created)
		item.UpdatedAt = decodeTime(updated)
		out = append(out, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return out, nil
}

func scanSchedules(rows *sql.Rows) ([]*models.Schedule, error) {
	var out []*models.Schedule
	for rows.Next() {
		var (
			schedule   models.Schedule
			state      string
			kind       string
			start      sql.NullString
			intervalNs int64
			monitor    sql.NullString
			pending    sql.NullString
			approved   sql.NullString
			rejected   sql.NullString
			created    string
			updated    string
		)
		if err := rows.Scan(&schedule.ID, &schedule.OperationID, &schedule.SessionID, &schedule.ContentType,
			&state, &kind, &start, &intervalNs, &schedule.TotalItems, &schedule.CronSpec,
			&monitor, &pending, &approved, &rejected, &created, &updated); err != nil {
			return nil, wrapDB(err)
		}
		schedule.State = models.ScheduleState(state)
		schedule.Type = models.ScheduleType(kind)
		schedule.StartTime = decodeTimePtr(start)
		schedule.Interval = time.Duration(intervalNs)
		decodeJSON(monitor, &schedule.Monitor)
		decodeJSON(pending, &schedule.PendingItemIDs)
		decodeJSON(approved, &schedule.ApprovedItemIDs)
		decodeJSON(rejected, &schedule.RejectedItemIDs)
		schedule.CreatedAt = decodeTime(created)
		schedule.UpdatedAt = decodeTime(updated)
		out = append(out, &schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return out, nil
}

func encodeJSON(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

func decodeJSON(src sql.NullString, dst any) {
	if !src.Valid || src.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(src.String), dst)
}

// sqliteTimeLayout is fixed-width so the lexicographic comparisons in SQL
// (due sweeps, claim reaping) match chronological order. RFC3339Nano trims
// trailing zeros and breaks that.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := decodeTime(s.String)
	return &t
}

func wrapDB(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDB(err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
