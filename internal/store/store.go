// Package store persists chat exchanges and finished interview sessions
// in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/prepvox/prepvox/internal/interview"
	"github.com/prepvox/prepvox/internal/transcript"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides access to the chats and interview_sessions tables.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects the pool and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies all pending schema migrations.
func Migrate(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Chat is one stored message/response exchange.
type Chat struct {
	ID        int       `json:"id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Pagination describes one page of chat history.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// SaveChat records one exchange for the user.
func (s *Store) SaveChat(ctx context.Context, userID int, message, response string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (user_id, message, response) VALUES ($1, $2, $3)`,
		userID, message, response)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// ChatHistory returns one page of the user's exchanges, newest first.
func (s *Store) ChatHistory(ctx context.Context, userID, page, limit int) ([]Chat, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	rows, err := s.pool.Query(ctx,
		`SELECT id, message, response, timestamp
		 FROM chats
		 WHERE user_id = $1
		 ORDER BY timestamp DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Message, &c.Response, &c.Timestamp); err != nil {
			return nil, Pagination{}, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, Pagination{}, fmt.Errorf("iterate chats: %w", err)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chats WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, Pagination{}, fmt.Errorf("count chats: %w", err)
	}

	pages := (total + limit - 1) / limit
	return chats, Pagination{Page: page, Limit: limit, Total: total, Pages: pages}, nil
}

// ClearChatHistory deletes every exchange stored for the user.
func (s *Store) ClearChatHistory(ctx context.Context, userID int) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete chats: %w", err)
	}
	return nil
}

// SaveVoiceSession stores a finished interview. The transcript is kept as
// JSONB so entries survive verbatim. Saving the same session id twice
// keeps the latest copy.
func (s *Store) SaveVoiceSession(ctx context.Context, rec interview.Record) error {
	transcription, err := json.Marshal(rec.Transcription)
	if err != nil {
		return fmt.Errorf("encode transcription: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO interview_sessions
		   (session_id, transcription, start_time, end_time, total_duration, questions_asked, answers_given)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO UPDATE SET
		   transcription = EXCLUDED.transcription,
		   end_time = EXCLUDED.end_time,
		   total_duration = EXCLUDED.total_duration,
		   questions_asked = EXCLUDED.questions_asked,
		   answers_given = EXCLUDED.answers_given`,
		rec.SessionID, transcription,
		rec.Metrics.StartTime, rec.Metrics.EndTime, rec.Metrics.TotalDuration,
		rec.Metrics.QuestionsAsked, rec.Metrics.AnswersGiven)
	if err != nil {
		return fmt.Errorf("insert interview session: %w", err)
	}
	return nil
}

// VoiceSession is one stored interview with its transcript.
type VoiceSession struct {
	ID            int                `json:"id"`
	SessionID     string             `json:"sessionId"`
	Transcription []transcript.Entry `json:"transcription"`
	Metrics       interview.Metrics  `json:"metrics"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// VoiceSessions returns stored interviews, newest first.
func (s *Store) VoiceSessions(ctx context.Context, limit int) ([]VoiceSession, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, transcription, start_time, end_time,
		        total_duration, questions_asked, answers_given, created_at
		 FROM interview_sessions
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query interview sessions: %w", err)
	}
	defer rows.Close()

	sessions := []VoiceSession{}
	for rows.Next() {
		var (
			v   VoiceSession
			raw []byte
		)
		if err := rows.Scan(&v.ID, &v.SessionID, &raw,
			&v.Metrics.StartTime, &v.Metrics.EndTime, &v.Metrics.TotalDuration,
			&v.Metrics.QuestionsAsked, &v.Metrics.AnswersGiven, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interview session: %w", err)
		}
		if err := json.Unmarshal(raw, &v.Transcription); err != nil {
			return nil, fmt.Errorf("decode transcription: %w", err)
		}
		sessions = append(sessions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interview sessions: %w", err)
	}
	return sessions, nil
}
