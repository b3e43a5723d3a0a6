package creds

import "github.com/chatlink/chatlink-go/internal/models"

// Store holds the session credentials. The access token is short-lived and
// kept in memory only; the refresh token and current-user identity survive
// process restarts. Implementations must treat "everything empty" as a valid
// state (logout can race a background refresh), never as an error.
type Store interface {
	AccessToken() string
	SetAccessToken(token string)

	RefreshToken() (string, error)
	SetRefreshToken(token string) error

	// CurrentUser returns nil when nobody is logged in.
	CurrentUser() (*models.User, error)
	SetCurrentUser(u *models.User) error

	// Clear wipes tokens and the current user.
	Clear() error
}
