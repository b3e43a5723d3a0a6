package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/chatlink/chatlink-go/internal/apiclient"
	"github.com/chatlink/chatlink-go/internal/authclient"
	"github.com/chatlink/chatlink-go/internal/chat"
	"github.com/chatlink/chatlink-go/internal/config"
	"github.com/chatlink/chatlink-go/internal/contacts"
	"github.com/chatlink/chatlink-go/internal/creds"
	"github.com/chatlink/chatlink-go/internal/models"
	"github.com/chatlink/chatlink-go/internal/presence"
	"github.com/chatlink/chatlink-go/internal/ws"
)

type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
)

// Session is the top-level application context: it owns the credential
// store, the HTTP clients, the three channels and both reconciliation
// stores, with an explicit lifecycle instead of ambient singletons.
type Session struct {
	cfg   *config.Config
	log   *slog.Logger
	creds creds.Store
	auth  *authclient.Client
	api   *apiclient.Client

	convChannel     *ws.Channel
	contactsChannel *ws.Channel
	userChannel     *ws.Channel

	Chat      *chat.Store
	Contacts  *contacts.Store
	Heartbeat *presence.Loop

	mu    sync.Mutex
	state State
}

func New(cfg *config.Config, store creds.Store, log *slog.Logger) (*Session, error) {
	s := &Session{cfg: cfg, log: log, creds: store}

	s.auth = authclient.New(cfg.BackendURL, log)
	s.api = apiclient.New(cfg.BackendURL, store, s.auth.Refresh, log)

	wsBase, err := socketBase(cfg.BackendURL)
	if err != nil {
		return nil, err
	}
	channel := func(path string) *ws.Channel {
		return ws.NewChannel(wsBase+path, s.authenticate, ws.Options{
			AckTimeout: cfg.AckTimeout,
			Logger:     log,
			OnAuthFailure: func() {
				// Refresh-token exhaustion: wipe and force re-login.
				if err := store.Clear(); err != nil {
					log.Error("clearing credentials failed", "err", err)
				}
			},
		})
	}
	s.convChannel = channel("/conversation")
	s.contactsChannel = channel("/contacts")
	s.userChannel = channel("/user")

	presenceClient := presence.NewClient(s.userChannel)
	s.Chat = chat.New(s.convChannel, store, presenceClient, &uploader{api: s.api}, log)
	s.Contacts = contacts.New(s.contactsChannel, store, log)
	s.Heartbeat = presence.NewLoop(presenceClient, s.Chat, cfg.HeartbeatInterval, log)

	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Login exchanges credentials for a refresh token and stores the
// current-user identity.
func (s *Session) Login(ctx context.Context, phoneNumber, password string) error {
	result, err := s.auth.Login(ctx, phoneNumber, password)
	if err != nil {
		return err
	}
	if err := s.creds.SetRefreshToken(result.RefreshToken); err != nil {
		return err
	}
	return s.creds.SetCurrentUser(&models.User{
		ID:        result.ID,
		FirstName: result.FirstName,
		LastName:  result.LastName,
		AvatarURL: result.AvatarURL,
	})
}

// Register creates an account and stores the resulting credentials, leaving
// the session ready for Init just like Login.
func (s *Session) Register(ctx context.Context, phoneNumber, password, firstName, lastName string) error {
	result, err := s.auth.Register(ctx, phoneNumber, password, firstName, lastName)
	if err != nil {
		return err
	}
	if err := s.creds.SetRefreshToken(result.RefreshToken); err != nil {
		return err
	}
	return s.creds.SetCurrentUser(&models.User{
		ID:        result.ID,
		FirstName: result.FirstName,
		LastName:  result.LastName,
		AvatarURL: result.AvatarURL,
	})
}

// Init brings both stores online and starts the heartbeat loop. Idempotent.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Uninitialized {
		s.mu.Unlock()
		return nil
	}
	s.state = Initializing
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		s.state = Uninitialized
		s.mu.Unlock()
		return err
	}

	if err := s.Chat.Init(ctx); err != nil {
		return fail(err)
	}
	if err := s.Contacts.Init(ctx); err != nil {
		return fail(err)
	}
	if err := s.userChannel.Connect(ctx); err != nil {
		return fail(err)
	}
	s.Heartbeat.Start(ctx)

	s.mu.Lock()
	s.state = Ready
	s.mu.Unlock()
	return nil
}

// Logout tells the server goodbye, tears everything down and wipes
// credentials. Safe to call in any state.
func (s *Session) Logout(ctx context.Context) error {
	if _, err := s.api.Do(ctx, "POST", "/auth/logout", nil); err != nil {
		s.log.Warn("logout request failed", "err", err)
	}

	s.Heartbeat.Stop()
	s.Chat.Reset()
	s.Contacts.Reset()
	s.userChannel.Reset()

	s.mu.Lock()
	s.state = Uninitialized
	s.mu.Unlock()
	return s.creds.Clear()
}

// UpdateProfile pushes profile fields, and optionally a new avatar, as a
// multipart form.
func (s *Session) UpdateProfile(ctx context.Context, fields map[string]string, avatarName string, avatar io.Reader) error {
	resp, err := s.api.UploadForm(ctx, "/user/update-profile", fields, "avatar", avatarName, avatar, nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("update profile: status %d", resp.StatusCode)
	}
	return nil
}

// authenticate resolves connection credentials for one dial attempt: it
// refreshes the access token first when a refresh token is present, and on
// refresh failure wipes the credential store so the attempt fails cleanly.
func (s *Session) authenticate(ctx context.Context) (string, error) {
	refreshToken, err := s.creds.RefreshToken()
	if err != nil {
		return "", err
	}
	if refreshToken != "" {
		token, err := s.auth.Refresh(ctx, refreshToken)
		if err != nil {
			if clearErr := s.creds.Clear(); clearErr != nil {
				s.log.Error("clearing credentials failed", "err", clearErr)
			}
			return "", err
		}
		s.creds.SetAccessToken(token)
	}
	return "Bearer " + s.creds.AccessToken(), nil
}

// uploader adapts the request client to the chat store's upload contract.
type uploader struct {
	api *apiclient.Client
}

func (u *uploader) UploadConversationFile(ctx context.Context, fileName string, file io.Reader, progress func(float64)) (string, error) {
	resp, err := u.api.Upload(ctx, "/conversation/upload", "file", fileName, file, progress)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("upload: status %d", resp.StatusCode)
	}
	var payload struct {
		URL string `json:"url"`
	}
	if err := resp.JSON(&payload); err != nil {
		return "", err
	}
	return payload.URL, nil
}

// socketBase maps the backend origin onto its websocket scheme.
func socketBase(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("bad backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bad backend url scheme %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
