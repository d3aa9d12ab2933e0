package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"duet/internal/auth"
	"duet/internal/config"
	"duet/internal/models"

	"github.com/SherClockHolmes/webpush-go"
)

// MintToken prints a session token for an existing user id. It is meant for
// load tests and debugging, the server is not contacted.
func MintToken(ctx context.Context, out io.Writer, cfg *config.Config, userID, username string, ttl time.Duration) error {
	if cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required to mint tokens")
	}
	if userID == "" || username == "" {
		return fmt.Errorf("user id and username are required")
	}

	svc, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: ttl,
	}, nil)
	if err != nil {
		return err
	}

	token, expiresAt, err := svc.IssueToken(models.User{ID: userID, UserName: username})
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	_, err = fmt.Fprintf(out, "%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
	return err
}

// GenerateVAPIDKeys prints a fresh key pair for VAPID_PUBLIC_KEY and
// VAPID_PRIVATE_KEY.
func GenerateVAPIDKeys(out io.Writer) error {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	_, err = fmt.Fprintf(out, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
	return err
}
