package app

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"lumosai/pkg/auth"
	"lumosai/pkg/domain"
)

type ProfilePatch struct {
	Name     *string
	Email    *string
	PhotoURL *string
	Settings map[string]any
}

func (a *App) Profile(ctx context.Context) (domain.User, error) {
	u, err := a.store.GetDefaultUser(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("load profile: %w", err)
	}
	return u, nil
}

// UpdateProfile applies the set fields. Settings keys are merged into the
// stored settings.
func (a *App) UpdateProfile(ctx context.Context, patch ProfilePatch) (domain.User, error) {
	u, err := a.Profile(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return domain.User{}, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		u.Name = name
	}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return domain.User{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
		}
		u.Email = email
	}
	if patch.PhotoURL != nil {
		u.PhotoURL = strings.TrimSpace(*patch.PhotoURL)
	}
	if len(patch.Settings) > 0 {
		if u.Settings == nil {
			u.Settings = map[string]any{}
		}
		for k, v := range patch.Settings {
			u.Settings[k] = v
		}
	}
	updated, err := a.store.UpdateUser(ctx, u)
	if err != nil {
		return domain.User{}, fmt.Errorf("update profile: %w", err)
	}
	return updated, nil
}

// Login checks the operator credentials and issues a session token.
func (a *App) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	if a.sessions == nil || a.loginEmail == "" || a.loginPasswordHash == "" {
		return "", time.Time{}, ErrUnauthorized
	}
	if !strings.EqualFold(strings.TrimSpace(email), a.loginEmail) || !auth.CheckPassword(password, a.loginPasswordHash) {
		a.log(ctx).Warn("login rejected")
		return "", time.Time{}, ErrUnauthorized
	}
	u, err := a.Profile(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := a.sessions.Issue(fmt.Sprint(u.ID))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue session: %w", err)
	}
	return token, expiresAt, nil
}

func (a *App) Logout(ctx context.Context, token string) error {
	if a.sessions == nil {
		return nil
	}
	if err := a.sessions.Revoke(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

// Authenticate returns the session subject of a bearer token.
func (a *App) Authenticate(ctx context.Context, token string) (string, error) {
	if a.sessions == nil {
		return "", ErrUnauthorized
	}
	subject, err := a.sessions.Verify(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return subject, nil
}
