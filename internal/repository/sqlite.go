package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/agentmatch/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", connectionDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	// Shared-cache connections fail with SQLITE_LOCKED instead of waiting, so
	// they are serialized too.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, "cache=shared") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// connectionDSN adds a busy timeout to DSNs that do not set one. DSN
// parameters apply to every pooled connection.
func connectionDSN(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000"
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		// seq preserves insertion order and breaks last_seen ties.
		// last_seen is stored as unix nanoseconds so ordering is numeric.
		`CREATE TABLE IF NOT EXISTS agents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			vibe TEXT,
			interests TEXT,
			looking_for TEXT,
			dealbreakers TEXT,
			status TEXT NOT NULL DEFAULT 'waiting',
			current_convo TEXT,
			last_seen INTEGER NOT NULL,
			stats_convos INTEGER NOT NULL DEFAULT 0,
			stats_matches INTEGER NOT NULL DEFAULT 0,
			stats_passes INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_queue ON agents(status, last_seen, seq)`,
		`CREATE TABLE IF NOT EXISTS convos (
			convo_id TEXT PRIMARY KEY,
			agent_1 TEXT NOT NULL,
			agent_2 TEXT NOT NULL,
			turn TEXT NOT NULL,
			status TEXT NOT NULL,
			messages TEXT NOT NULL DEFAULT '[]',
			message_count INTEGER NOT NULL DEFAULT 0,
			verdict_1 TEXT,
			verdict_2 TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_convos_status ON convos(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			agent_1 TEXT NOT NULL,
			agent_2 TEXT NOT NULL,
			convo_id TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (convo_id) REFERENCES convos(convo_id)
		)`,
		`CREATE TABLE IF NOT EXISTS feed (
			feed_id TEXT PRIMARY KEY,
			convo_id TEXT NOT NULL UNIQUE,
			agent_ids TEXT NOT NULL,
			agent_names TEXT NOT NULL,
			messages TEXT NOT NULL,
			verdict TEXT NOT NULL,
			likes INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (convo_id) REFERENCES convos(convo_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_created ON feed(created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			convo_id TEXT,
			agent_id TEXT,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_convo ON events(convo_id, ts)`,
		`CREATE TABLE IF NOT EXISTS site_stats (
			id TEXT PRIMARY KEY,
			visits INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Columns added after the first schema (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("agents", "contact_handle", "ALTER TABLE agents ADD COLUMN contact_handle TEXT"); err != nil {
		return err
	}
	if err := s.ensureColumn("agents", "score", "ALTER TABLE agents ADD COLUMN score INTEGER"); err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const agentColumns = `agent_id, name, vibe, interests, looking_for, dealbreakers, contact_handle, status, current_convo, last_seen, stats_convos, stats_matches, stats_passes, score, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var agent domain.Agent
	var vibe, interests, lookingFor, dealbreakers, contact, currentConvo sql.NullString
	var lastSeen int64
	var score sql.NullInt64
	if err := row.Scan(&agent.AgentID, &agent.Name, &vibe, &interests, &lookingFor, &dealbreakers, &contact,
		&agent.Status, &currentConvo, &lastSeen, &agent.Stats.Convos, &agent.Stats.Matches, &agent.Stats.Passes,
		&score, &agent.CreatedAt); err != nil {
		return nil, err
	}
	agent.Vibe = vibe.String
	agent.LookingFor = lookingFor.String
	agent.ContactHandle = contact.String
	agent.CurrentConvo = currentConvo.String
	agent.LastSeen = time.Unix(0, lastSeen).UTC()
	agent.Interests = decodeStrings(interests)
	agent.Dealbreakers = decodeStrings(dealbreakers)
	if score.Valid {
		v := int(score.Int64)
		agent.Score = &v
	}
	return &agent, nil
}

// UpsertAgent creates the agent as waiting, or refreshes its profile and
// last_seen without touching status. It reports whether a row was created.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agentID string, profile domain.Profile, now time.Time) (bool, error) {
	interests := encodeStrings(profile.Interests)
	dealbreakers := encodeStrings(profile.Dealbreakers)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, name, vibe, interests, looking_for, dealbreakers, contact_handle, status, last_seen, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO NOTHING`,
		agentID, profile.Name, nullString(profile.Vibe), interests, nullString(profile.LookingFor), dealbreakers,
		nullString(profile.ContactHandle), domain.AgentStatusWaiting, now.UnixNano(), now.UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, vibe = ?, interests = ?, looking_for = ?, dealbreakers = ?, contact_handle = COALESCE(?, contact_handle), last_seen = ?
		 WHERE agent_id = ?`,
		profile.Name, nullString(profile.Vibe), interests, nullString(profile.LookingFor), dealbreakers,
		nullString(profile.ContactHandle), now.UnixNano(), agentID)
	return false, err
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// UpdateAgent applies a status transition unconditionally.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agentID string, update domain.AgentUpdate) error {
	_, err := s.CompareAndSwapAgent(ctx, agentID, AgentGuard{}, update)
	return err
}

// CompareAndSwapAgent applies a status transition only if the guard holds.
func (s *SQLiteStore) CompareAndSwapAgent(ctx context.Context, agentID string, guard AgentGuard, update domain.AgentUpdate) (bool, error) {
	query := `UPDATE agents SET status = ?, current_convo = ?`
	args := []interface{}{update.Status, nullString(update.CurrentConvo)}
	if update.LastSeen != nil {
		query += `, last_seen = ?`
		args = append(args, update.LastSeen.UnixNano())
	}
	query += ` WHERE agent_id = ?`
	args = append(args, agentID)
	if guard.Status != "" {
		query += ` AND status = ?`
		args = append(args, guard.Status)
	}
	if guard.ConvoID != "" {
		query += ` AND current_convo = ?`
		args = append(args, guard.ConvoID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// TouchAgent refreshes last_seen.
func (s *SQLiteStore) TouchAgent(ctx context.Context, agentID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE agent_id = ?`, now.UnixNano(), agentID)
	return err
}

// PickOldestWaiting returns the waiting agent with the smallest last_seen,
// ties broken by insertion order.
func (s *SQLiteStore) PickOldestWaiting(ctx context.Context, excluding string) (*domain.Agent, error) {
	agent, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE status = ? AND agent_id != ?
		 ORDER BY last_seen ASC, seq ASC
		 LIMIT 1`,
		domain.AgentStatusWaiting, excluding))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// CountWaiting counts agents in the queue.
func (s *SQLiteStore) CountWaiting(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE status = ?`, domain.AgentStatusWaiting).Scan(&n)
	return n, err
}

// IncrementAgentStats adds one conversation and one match or pass.
func (s *SQLiteStore) IncrementAgentStats(ctx context.Context, agentID string, verdict domain.Verdict) error {
	matches, passes := 0, 0
	if verdict == domain.VerdictMatch {
		matches = 1
	} else {
		passes = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET stats_convos = stats_convos + 1, stats_matches = stats_matches + ?, stats_passes = stats_passes + ?
		 WHERE agent_id = ?`,
		matches, passes, agentID)
	return err
}

// ListLeaderboard lists agents by score, highest first.
func (s *SQLiteStore) ListLeaderboard(ctx context.Context, limit int) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents
		 ORDER BY COALESCE(score, ?) DESC, stats_matches DESC, seq ASC
		 LIMIT ?`,
		domain.DefaultScore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

const convoColumns = `convo_id, agent_1, agent_2, turn, status, messages, verdict_1, verdict_2, created_at, completed_at`

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var convo domain.Conversation
	var messages string
	var verdict1, verdict2 sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&convo.ConvoID, &convo.Agent1, &convo.Agent2, &convo.Turn, &convo.Status, &messages,
		&verdict1, &verdict2, &convo.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &convo.Messages); err != nil {
		return nil, fmt.Errorf("corrupt messages for convo %s: %w", convo.ConvoID, err)
	}
	convo.Verdict1 = domain.Verdict(verdict1.String)
	convo.Verdict2 = domain.Verdict(verdict2.String)
	if completedAt.Valid {
		convo.CompletedAt = &completedAt.Time
	}
	return &convo, nil
}

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, convo *domain.Conversation) error {
	messages, err := json.Marshal(nonNilMessages(convo.Messages))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO convos (convo_id, agent_1, agent_2, turn, status, messages, message_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		convo.ConvoID, convo.Agent1, convo.Agent2, convo.Turn, convo.Status, string(messages), len(convo.Messages), convo.CreatedAt)
	return err
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, convoID string) (*domain.Conversation, error) {
	convo, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+convoColumns+` FROM convos WHERE convo_id = ?`, convoID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return convo, nil
}

// AppendMessage appends msg if the conversation is active, it is the sender's
// turn and the cap has not been reached. The turn flips to nextTurn and the
// message that reaches maxMessages moves the conversation to pending_verdict
// in the same statement.
func (s *SQLiteStore) AppendMessage(ctx context.Context, convoID string, msg domain.Message, nextTurn string, maxMessages int) (bool, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE convos SET
			messages = json_insert(messages, '$[#]', json(?)),
			message_count = message_count + 1,
			turn = ?,
			status = CASE WHEN message_count + 1 >= ? THEN ? ELSE status END
		 WHERE convo_id = ? AND status = ? AND turn = ? AND message_count < ?`,
		string(payload), nextTurn, maxMessages, domain.ConvoStatusPendingVerdict,
		convoID, domain.ConvoStatusActive, msg.FromAgent, maxMessages)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetVerdict fills verdict slot 1 or 2 if it is still empty and the
// conversation awaits verdicts.
func (s *SQLiteStore) SetVerdict(ctx context.Context, convoID string, slot int, verdict domain.Verdict) (bool, error) {
	column := "verdict_1"
	if slot == 2 {
		column = "verdict_2"
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE convos SET %[1]s = ? WHERE convo_id = ? AND status = ? AND %[1]s IS NULL`, column),
		verdict, convoID, domain.ConvoStatusPendingVerdict)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CompleteConversation marks the conversation complete once both verdicts
// are in. Exactly one caller observes true.
func (s *SQLiteStore) CompleteConversation(ctx context.Context, convoID string, completedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE convos SET status = ?, completed_at = ?
		 WHERE convo_id = ? AND status = ? AND verdict_1 IS NOT NULL AND verdict_2 IS NOT NULL`,
		domain.ConvoStatusComplete, completedAt, convoID, domain.ConvoStatusPendingVerdict)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListConversations lists conversations in the given statuses, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, statuses []domain.ConvoStatus, limit int) ([]domain.Conversation, error) {
	query := `SELECT ` + convoColumns + ` FROM convos`
	var args []interface{}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ","))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convos []domain.Conversation
	for rows.Next() {
		convo, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convos = append(convos, *convo)
	}
	return convos, rows.Err()
}

// CreateMatch creates a match record. A second match for the same
// conversation violates the unique constraint.
func (s *SQLiteStore) CreateMatch(ctx context.Context, match *domain.Match) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (match_id, agent_1, agent_2, convo_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		match.MatchID, match.Agent1, match.Agent2, match.ConvoID, match.CreatedAt)
	return err
}

// GetMatchByConvo retrieves the match created from a conversation.
func (s *SQLiteStore) GetMatchByConvo(ctx context.Context, convoID string) (*domain.Match, error) {
	var m domain.Match
	err := s.db.QueryRowContext(ctx,
		`SELECT match_id, agent_1, agent_2, convo_id, created_at FROM matches WHERE convo_id = ?`,
		convoID).Scan(&m.MatchID, &m.Agent1, &m.Agent2, &m.ConvoID, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateFeedEntry creates a feed entry.
func (s *SQLiteStore) CreateFeedEntry(ctx context.Context, entry *domain.FeedEntry) error {
	agentIDs, _ := json.Marshal(entry.AgentIDs)
	agentNames, _ := json.Marshal(entry.AgentNames)
	messages, err := json.Marshal(entry.Messages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feed (feed_id, convo_id, agent_ids, agent_names, messages, verdict, likes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.FeedID, entry.ConvoID, string(agentIDs), string(agentNames), string(messages), entry.Verdict, entry.Likes, entry.CreatedAt)
	return err
}

const feedColumns = `feed_id, convo_id, agent_ids, agent_names, messages, verdict, likes, created_at`

func scanFeedEntry(row rowScanner) (*domain.FeedEntry, error) {
	var entry domain.FeedEntry
	var agentIDs, agentNames, messages string
	if err := row.Scan(&entry.FeedID, &entry.ConvoID, &agentIDs, &agentNames, &messages, &entry.Verdict, &entry.Likes, &entry.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(agentIDs), &entry.AgentIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(agentNames), &entry.AgentNames); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &entry.Messages); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetFeedEntryByConvo retrieves the feed entry for a conversation.
func (s *SQLiteStore) GetFeedEntryByConvo(ctx context.Context, convoID string) (*domain.FeedEntry, error) {
	entry, err := scanFeedEntry(s.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feed WHERE convo_id = ?`, convoID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListFeed lists feed entries, newest first.
func (s *SQLiteStore) ListFeed(ctx context.Context, limit int) ([]domain.FeedEntry, error) {
	query := `SELECT ` + feedColumns + ` FROM feed ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.FeedEntry
	for rows.Next() {
		entry, err := scanFeedEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// CreateEvent creates a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, convo_id, agent_id, ts, type, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, nullString(event.ConvoID), nullString(event.AgentID), event.Ts, event.Type, payload)
	return err
}

// GetEvents retrieves events for a conversation.
func (s *SQLiteStore) GetEvents(ctx context.Context, convoID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, convo_id, agent_id, ts, type, payload FROM events WHERE convo_id = ?`
	args := []interface{}{convoID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var eventConvo, agentID, payload sql.NullString
		if err := rows.Scan(&event.EventID, &eventConvo, &agentID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		event.ConvoID = eventConvo.String
		event.AgentID = agentID.String
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// IncrementVisits atomically increments the site visit counter.
func (s *SQLiteStore) IncrementVisits(ctx context.Context) (int64, error) {
	var visits int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO site_stats (id, visits) VALUES ('main', 1)
		 ON CONFLICT(id) DO UPDATE SET visits = visits + 1
		 RETURNING visits`).Scan(&visits)
	return visits, err
}

// GetCounts returns aggregate counters without touching visits.
func (s *SQLiteStore) GetCounts(ctx context.Context) (*domain.SiteCounts, error) {
	var counts domain.SiteCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE((SELECT visits FROM site_stats WHERE id = 'main'), 0),
			(SELECT COUNT(*) FROM agents),
			(SELECT COUNT(*) FROM convos),
			(SELECT COUNT(*) FROM matches)`).Scan(&counts.Visits, &counts.Agents, &counts.Convos, &counts.Matches)
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeStrings(raw sql.NullString) []string {
	out := []string{}
	if raw.Valid && raw.String != "" {
		_ = json.Unmarshal([]byte(raw.String), &out)
	}
	return out
}

func nonNilMessages(messages []domain.Message) []domain.Message {
	if messages == nil {
		return []domain.Message{}
	}
	return messages
}
