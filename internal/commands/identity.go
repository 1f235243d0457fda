package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"studiochat/internal/auth"
	"studiochat/internal/content"
	"studiochat/internal/models"
)

// Authenticator exchanges credentials for an identity.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (models.Identity, error)
}

// IdentityStore persists the identity between runs.
type IdentityStore interface {
	SaveIdentity(id models.Identity) error
	Identity() (models.Identity, error)
	Clear() error
}

func Login(ctx context.Context, out io.Writer, api Authenticator, store IdentityStore, email, password string) error {
	if err := content.ValidateEmail(email); err != nil {
		return err
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	id, err := api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	// Fill gaps in the login response from the token itself.
	if claims, err := auth.ParseClaims(id.Token); err == nil {
		if id.UserID == "" {
			id.UserID = claims.UserID
		}
		if id.Role == "" {
			id.Role = claims.Role
		}
	}

	if err := store.SaveIdentity(id); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	fmt.Fprintf(out, "Logged in as %s (%s)\n", id.UserID, roleOrUnknown(id.Role))
	return nil
}

func Logout(out io.Writer, store IdentityStore) error {
	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear identity: %w", err)
	}
	fmt.Fprintln(out, "Logged out")
	return nil
}

func WhoAmI(out io.Writer, store IdentityStore, now time.Time) error {
	id, err := store.Identity()
	if errors.Is(err, models.ErrNotFound) {
		fmt.Fprintln(out, "Not logged in")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "User:  %s\n", id.UserID)
	fmt.Fprintf(out, "Role:  %s\n", roleOrUnknown(id.Role))

	claims, err := auth.ParseClaims(id.Token)
	if err != nil {
		fmt.Fprintln(out, "Token: opaque")
		return nil
	}
	switch err := auth.CheckExpiry(claims, now); {
	case err != nil:
		fmt.Fprintf(out, "Token: %v\n", err)
	case claims.ExpiresAt != nil:
		fmt.Fprintf(out, "Token: valid until %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	default:
		fmt.Fprintln(out, "Token: valid, no expiry")
	}
	return nil
}

func roleOrUnknown(r models.Role) string {
	if r == "" {
		return "unknown role"
	}
	return string(r)
}
