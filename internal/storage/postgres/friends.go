package postgres

import (
	"context"
	"fmt"

	"duet/internal/models"
)

// Friendships are unique per unordered pair: an upsert replaces the row in
// either direction.
func (s *Store) UpsertFriendship(ctx context.Context, f models.Friendship) error {
	_, err := s.pool.Exec(ctx,
		`WITH removed AS (
			DELETE FROM friendships WHERE requester_id = $2 AND addressee_id = $1
		)
		INSERT INTO friendships (requester_id, addressee_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (requester_id, addressee_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		f.RequesterID, f.AddresseeID, string(f.Status), f.CreatedAt, f.UpdatedAt)
	return err
}

const friendshipColumns = `requester_id, addressee_id, status, created_at, updated_at`

func (s *Store) GetFriendship(ctx context.Context, userID, peerID string) (models.Friendship, error) {
	var (
		f      models.Friendship
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+friendshipColumns+` FROM friendships
		 WHERE (requester_id = $1 AND addressee_id = $2) OR (requester_id = $2 AND addressee_id = $1)`,
		userID, peerID).Scan(&f.RequesterID, &f.AddresseeID, &status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return models.Friendship{}, notFound(err, fmt.Sprintf("friendship %s/%s", userID, peerID))
	}
	f.Status = models.FriendStatus(status)
	return f, nil
}

func (s *Store) ListFriendships(ctx context.Context, userID string) ([]models.Friendship, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+friendshipColumns+` FROM friendships WHERE requester_id = $1 OR addressee_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Friendship
	for rows.Next() {
		var (
			f      models.Friendship
			status string
		)
		if err := rows.Scan(&f.RequesterID, &f.AddresseeID, &status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Status = models.FriendStatus(status)
		list = append(list, f)
	}
	return list, rows.Err()
}

func (s *Store) ListContacts(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END
		 FROM friendships
		 WHERE (requester_id = $1 OR addressee_id = $1) AND status = $2`,
		userID, string(models.FriendStatusAccepted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		contacts = append(contacts, id)
	}
	return contacts, rows.Err()
}

func (s *Store) AddPushSubscription(ctx context.Context, sub models.PushSubscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, auth, p256dh) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, endpoint) DO UPDATE SET auth = EXCLUDED.auth, p256dh = EXCLUDED.p256dh`,
		sub.UserID, sub.Endpoint, sub.Auth, sub.P256dh)
	return err
}

func (s *Store) ListPushSubscriptions(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT endpoint, auth, p256dh FROM push_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		sub := models.PushSubscription{UserID: userID}
		if err := rows.Scan(&sub.Endpoint, &sub.Auth, &sub.P256dh); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) DeletePushSubscription(ctx context.Context, userID, endpoint string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
	return err
}
