// Package postgres is the pgx-backed implementation of the Message Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/histeeria/chatcore/internal/store"
	apperrors "github.com/histeeria/chatcore/pkg/errors"
)

const maxHistoryLimit = 50

// Store is a pgxpool-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a connection pool against dsn and verifies it is reachable.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Create(ctx context.Context, senderID, receiverID, content string, timestamp time.Time) (*store.Message, error) {
	msg := &store.Message{
		MessageID:   uuid.New(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     content,
		Timestamp:   timestamp,
		Undelivered: true,
	}

	query := `
		INSERT INTO messages (message_id, sender_id, receiver_id, content, timestamp, undelivered)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, query, msg.MessageID, msg.SenderID, msg.ReceiverID, msg.Content, msg.Timestamp, msg.Undelivered); err != nil {
		return nil, apperrors.ErrDatabase.WithDetails(fmt.Sprintf("create message: %v", err))
	}
	return msg, nil
}

func (s *Store) FindByID(ctx context.Context, messageID uuid.UUID) (*store.Message, error) {
	query := `
		SELECT message_id, sender_id, receiver_id, content, timestamp, undelivered, delivered_at, read_at
		FROM messages WHERE message_id = $1
	`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, apperrors.ErrDatabase.WithDetails(fmt.Sprintf("find message %s: %v", messageID, err))
	}
	return msg, nil
}

func (s *Store) MarkDelivered(ctx context.Context, messageID uuid.UUID) error {
	query := `UPDATE messages SET undelivered = false, delivered_at = NOW() WHERE message_id = $1`
	tag, err := s.pool.Exec(ctx, query, messageID)
	if err != nil {
		return apperrors.ErrDatabase.WithDetails(fmt.Sprintf("mark delivered %s: %v", messageID, err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrMessageNotFound
	}
	return nil
}

func (s *Store) MarkUndelivered(ctx context.Context, messageID uuid.UUID) error {
	query := `UPDATE messages SET undelivered = true, delivered_at = NULL WHERE message_id = $1`
	tag, err := s.pool.Exec(ctx, query, messageID)
	if err != nil {
		return apperrors.ErrDatabase.WithDetails(fmt.Sprintf("mark undelivered %s: %v", messageID, err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrMessageNotFound
	}
	return nil
}

func (s *Store) DeleteByID(ctx context.Context, messageID uuid.UUID) error {
	query := `DELETE FROM messages WHERE message_id = $1`
	if _, err := s.pool.Exec(ctx, query, messageID); err != nil {
		return apperrors.ErrDatabase.WithDetails(fmt.Sprintf("delete message %s: %v", messageID, err))
	}
	return nil
}

func (s *Store) FindUndelivered(ctx context.Context, receiverID string) ([]*store.Message, error) {
	query := `
		SELECT message_id, sender_id, receiver_id, content, timestamp, undelivered, delivered_at, read_at
		FROM messages WHERE undelivered = true AND receiver_id = $1
		ORDER BY timestamp ASC
	`
	rows, err := s.pool.Query(ctx, query, receiverID)
	if err != nil {
		return nil, apperrors.ErrDatabase.WithDetails(fmt.Sprintf("find undelivered for %s: %v", receiverID, err))
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) ChatHistory(ctx context.Context, a, b string, before *time.Time, limit int) ([]*store.Message, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `
		SELECT message_id, sender_id, receiver_id, content, timestamp, undelivered, delivered_at, read_at
		FROM messages
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND ($3::timestamptz IS NULL OR timestamp < $3)
		ORDER BY timestamp DESC
		LIMIT $4
	`
	rows, err := s.pool.Query(ctx, query, a, b, before, limit)
	if err != nil {
		return nil, apperrors.ErrDatabase.WithDetails(fmt.Sprintf("chat history %s/%s: %v", a, b, err))
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) DeleteDeliveredOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	horizon := time.Now().Add(-olderThan)
	query := `DELETE FROM messages WHERE undelivered = false AND delivered_at < $1`
	tag, err := s.pool.Exec(ctx, query, horizon)
	if err != nil {
		return 0, apperrors.ErrDatabase.WithDetails(fmt.Sprintf("retention sweep: %v", err))
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var m store.Message
	if err := row.Scan(&m.MessageID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Timestamp, &m.Undelivered, &m.DeliveredAt, &m.ReadAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessages(rows pgx.Rows) ([]*store.Message, error) {
	var messages []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
