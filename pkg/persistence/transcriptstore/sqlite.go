package transcriptstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

// SQLiteDSNForFile returns a DSN for a file-backed cache with WAL enabled.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_chats (
		  chat_id TEXT PRIMARY KEY,
		  title TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL DEFAULT 0,
		  updated_at_ms INTEGER NOT NULL DEFAULT 0,
		  message_count INTEGER NOT NULL DEFAULT 0,
		  metadata_json TEXT NOT NULL DEFAULT '',
		  cached_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transcript_messages (
		  chat_id TEXT NOT NULL,
		  message_id TEXT NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  ts_ms INTEGER NOT NULL DEFAULT 0,
		  seq INTEGER NOT NULL DEFAULT 0,
		  position INTEGER NOT NULL,
		  PRIMARY KEY (chat_id, message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_messages_by_position
		  ON transcript_messages(chat_id, position);`,
		`CREATE INDEX IF NOT EXISTS transcript_chats_by_updated
		  ON transcript_chats(updated_at_ms DESC, chat_id ASC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) SaveMessages(ctx context.Context, chatID string, msgs []chatapi.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return errors.New("sqlite transcript store: chatID is empty")
	}
	if len(msgs) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), -1) + 1 FROM transcript_messages WHERE chat_id = ?
	`, chatID).Scan(&next); err != nil {
		return errors.Wrap(err, "sqlite transcript store: next position")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_messages (chat_id, message_id, role, content, ts_ms, seq, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, message_id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			ts_ms = CASE
				WHEN excluded.ts_ms > 0 THEN excluded.ts_ms
				ELSE transcript_messages.ts_ms
			END,
			seq = CASE
				WHEN excluded.seq > 0 THEN excluded.seq
				ELSE transcript_messages.seq
			END
	`)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: prepare upsert")
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		seq, err := uint64ToInt64(m.Seq)
		if err != nil {
			return errors.Wrapf(err, "sqlite transcript store: message %s seq", m.ID)
		}
		// conflicting rows keep their original position
		if _, err := stmt.ExecContext(ctx, chatID, m.ID, string(m.Role), m.Content, unixMs(m.Timestamp), seq, next); err != nil {
			return errors.Wrapf(err, "sqlite transcript store: upsert message %s", m.ID)
		}
		next++
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcript_chats (chat_id, cached_at_ms) VALUES (?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET cached_at_ms = excluded.cached_at_ms
	`, chatID, time.Now().UnixMilli()); err != nil {
		return errors.Wrap(err, "sqlite transcript store: touch chat")
	}
	return errors.Wrap(tx.Commit(), "sqlite transcript store: commit")
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, chatID string) ([]chatapi.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, role, content, ts_ms, seq
		FROM transcript_messages
		WHERE chat_id = ?
		ORDER BY position ASC
	`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: load messages")
	}
	defer func() { _ = rows.Close() }()

	var out []chatapi.Message
	for rows.Next() {
		var (
			m    chatapi.Message
			role string
			ts   int64
			seq  int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &ts, &seq); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan message")
		}
		m.ChatID = chatID
		m.Role = chatapi.Role(role)
		m.Timestamp = fromUnixMs(ts)
		if seq > 0 {
			m.Seq = uint64(seq)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate messages")
	}
	sortMessages(out)
	return out, nil
}

func (s *SQLiteStore) UpsertChat(ctx context.Context, chat chatapi.Chat) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if strings.TrimSpace(chat.ID) == "" {
		return errors.New("sqlite transcript store: chat id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	meta := ""
	if len(chat.Metadata) > 0 {
		b, err := json.Marshal(chat.Metadata)
		if err != nil {
			return errors.Wrap(err, "sqlite transcript store: marshal metadata")
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_chats (
			chat_id, title, created_at_ms, updated_at_ms, message_count, metadata_json, cached_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			title = CASE
				WHEN excluded.title <> '' THEN excluded.title
				ELSE transcript_chats.title
			END,
			created_at_ms = CASE
				WHEN transcript_chats.created_at_ms > 0 THEN transcript_chats.created_at_ms
				ELSE excluded.created_at_ms
			END,
			updated_at_ms = CASE
				WHEN excluded.updated_at_ms > transcript_chats.updated_at_ms THEN excluded.updated_at_ms
				ELSE transcript_chats.updated_at_ms
			END,
			message_count = CASE
				WHEN excluded.message_count > 0 THEN excluded.message_count
				ELSE transcript_chats.message_count
			END,
			metadata_json = CASE
				WHEN excluded.metadata_json <> '' THEN excluded.metadata_json
				ELSE transcript_chats.metadata_json
			END,
			cached_at_ms = excluded.cached_at_ms
	`, chat.ID, chat.Title, unixMs(chat.CreatedAt), unixMs(chat.UpdatedAt), chat.MessageCount, meta, time.Now().UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert chat")
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (chatapi.Chat, bool, error) {
	if s == nil || s.db == nil {
		return chatapi.Chat{}, false, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT chat_id, title, created_at_ms, updated_at_ms, message_count, metadata_json
		FROM transcript_chats
		WHERE chat_id = ?
	`, chatID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chatapi.Chat{}, false, nil
	}
	if err != nil {
		return chatapi.Chat{}, false, errors.Wrap(err, "sqlite transcript store: get chat")
	}
	return chat, true, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, limit int) ([]chatapi.Chat, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, title, created_at_ms, updated_at_ms, message_count, metadata_json
		FROM transcript_chats
		ORDER BY updated_at_ms DESC, chat_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list chats")
	}
	defer func() { _ = rows.Close() }()

	out := make([]chatapi.Chat, 0, limit)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan chat")
		}
		out = append(out, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate chats")
	}
	return out, nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_messages WHERE chat_id = ?`, chatID); err != nil {
		return errors.Wrap(err, "sqlite transcript store: delete messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_chats WHERE chat_id = ?`, chatID); err != nil {
		return errors.Wrap(err, "sqlite transcript store: delete chat")
	}
	return errors.Wrap(tx.Commit(), "sqlite transcript store: commit")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (chatapi.Chat, error) {
	var (
		chat      chatapi.Chat
		createdMs int64
		updatedMs int64
		meta      string
	)
	if err := r.Scan(&chat.ID, &chat.Title, &createdMs, &updatedMs, &chat.MessageCount, &meta); err != nil {
		return chatapi.Chat{}, err
	}
	chat.CreatedAt = fromUnixMs(createdMs)
	chat.UpdatedAt = fromUnixMs(updatedMs)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &chat.Metadata); err != nil {
			return chatapi.Chat{}, errors.Wrap(err, "decode metadata")
		}
	}
	return chat, nil
}

func unixMs(t chatapi.Timestamp) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMs(ms int64) chatapi.Timestamp {
	if ms <= 0 {
		return chatapi.Timestamp{}
	}
	return chatapi.Timestamp{Time: time.UnixMilli(ms).UTC()}
}

func uint64ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, errors.Errorf("value %d overflows int64", v)
	}
	return int64(v), nil
}
