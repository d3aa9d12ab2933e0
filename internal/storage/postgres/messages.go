package postgres

import (
	"context"
	"fmt"
	"slices"

	"duet/internal/models"

	"github.com/jackc/pgx/v5"
)

// AppendMessage locks the conversation row, so concurrent appends to one pair
// get consecutive sequence numbers.
func (s *Store) AppendMessage(ctx context.Context, message models.Message) (models.Message, error) {
	pair := models.NewPair(message.FromUserID, message.ToUserID)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversations (low, high) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			pair.Low, pair.High); err != nil {
			return err
		}

		var lastSeq, lastTS int64
		if err := tx.QueryRow(ctx,
			`SELECT last_seq, last_ts FROM conversations WHERE low = $1 AND high = $2 FOR UPDATE`,
			pair.Low, pair.High).Scan(&lastSeq, &lastTS); err != nil {
			return err
		}

		message.Seq = lastSeq + 1
		message.Timestamp = max(message.Timestamp, lastTS)

		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (low, high, seq, id, from_user_id, to_user_id, text, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			pair.Low, pair.High, message.Seq, message.ID,
			message.FromUserID, message.ToUserID, message.Text, message.Timestamp); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		_, err := tx.Exec(ctx,
			`UPDATE conversations
			 SET last_seq = $3, last_ts = $4, last_message_id = $5, last_from = $6, last_text = $7
			 WHERE low = $1 AND high = $2`,
			pair.Low, pair.High, message.Seq, message.Timestamp, message.ID, message.FromUserID, message.Text)
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (s *Store) ListMessages(ctx context.Context, pair models.Pair, before int64, limit int) ([]models.Message, error) {
	query := `SELECT id, seq, from_user_id, to_user_id, text, ts FROM messages
		WHERE low = $1 AND high = $2 AND ($3::bigint <= 0 OR seq < $3::bigint)
		ORDER BY seq DESC LIMIT $4`
	rows, err := s.pool.Query(ctx, query, pair.Low, pair.High, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Seq, &m.FromUserID, &m.ToUserID, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *Store) LastMessages(ctx context.Context, userID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT low, high, last_message_id, last_seq, last_from, last_text, last_ts FROM conversations
		 WHERE (low = $1 OR high = $1) AND last_seq > 0
		 ORDER BY last_ts DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var last []models.Message
	for rows.Next() {
		var (
			pair models.Pair
			m    models.Message
		)
		if err := rows.Scan(&pair.Low, &pair.High, &m.ID, &m.Seq, &m.FromUserID, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		m.ToUserID = pair.Other(m.FromUserID)
		last = append(last, m)
	}
	return last, rows.Err()
}
