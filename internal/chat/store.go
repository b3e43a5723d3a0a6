package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/chatlink/chatlink-go/internal/creds"
	"github.com/chatlink/chatlink-go/internal/models"
	"github.com/chatlink/chatlink-go/internal/ws"
)

var (
	ErrNoCurrentUser = errors.New("chat: no current user")
	ErrNotFound      = errors.New("chat: conversation not found")
)

type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
)

// PresenceClient polls one user's online/last-active state.
type PresenceClient interface {
	Check(ctx context.Context, userID int64) (*models.Heartbeat, error)
}

// FileUploader pushes a file to the backend and returns its remote URL.
// progress receives the upload fraction in [0,1].
type FileUploader interface {
	UploadConversationFile(ctx context.Context, fileName string, file io.Reader, progress func(float64)) (string, error)
}

type eventKind int

const (
	eventUpdate eventKind = iota
	eventCreate
)

type serverEvent struct {
	kind eventKind
	msg  models.Message
}

// Store keeps the locally consistent view of the user's conversations,
// reconciling optimistic local sends with server-confirmed events. The
// conversation list is always ordered most-recent-activity-first and each
// message log ascending by id.
//
// Server pushes land on an internal queue drained by a single goroutine, so
// update and create handling never interleave.
type Store struct {
	log      *slog.Logger
	sock     ws.Socket
	creds    creds.Store
	presence PresenceClient
	uploader FileUploader

	mu            sync.RWMutex
	state         State
	conversations []models.Conversation

	events chan serverEvent
	done   chan struct{}

	updateListener *ws.Listener
	createListener *ws.Listener
}

func New(sock ws.Socket, store creds.Store, presence PresenceClient, uploader FileUploader, log *slog.Logger) *Store {
	return &Store{
		log:      log,
		sock:     sock,
		creds:    store,
		presence: presence,
		uploader: uploader,
	}
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Conversations returns a snapshot of the conversation list, ordered by
// descending last activity.
func (s *Store) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, len(s.conversations))
	for i := range s.conversations {
		out[i] = cloneConversation(&s.conversations[i])
	}
	return out
}

// Init connects the conversation channel and subscribes to the server's
// `update` and `create` pushes. Idempotent: only the first call does work.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Uninitialized {
		s.mu.Unlock()
		return nil
	}
	s.state = Initializing
	s.mu.Unlock()

	if err := s.sock.Connect(ctx); err != nil {
		s.mu.Lock()
		s.state = Uninitialized
		s.mu.Unlock()
		return err
	}

	events := make(chan serverEvent, 64)
	done := make(chan struct{})

	enqueue := func(kind eventKind) func(json.RawMessage) {
		return func(data json.RawMessage) {
			var m models.Message
			if err := json.Unmarshal(data, &m); err != nil {
				s.log.Warn("discarding malformed push", "err", err)
				return
			}
			select {
			case events <- serverEvent{kind: kind, msg: m}:
			case <-done:
			}
		}
	}

	updateListener := &ws.Listener{SuccessEvent: "update", OnSuccess: enqueue(eventUpdate)}
	createListener := &ws.Listener{SuccessEvent: "create", OnSuccess: enqueue(eventCreate)}
	s.sock.AddEventListener(updateListener)
	s.sock.AddEventListener(createListener)

	s.mu.Lock()
	s.events = events
	s.done = done
	s.updateListener = updateListener
	s.createListener = createListener
	s.state = Ready
	s.mu.Unlock()

	go s.run(events, done)
	return nil
}

// Reset tears the store down: the drain loop stops, listeners drop and the
// channel resets. In-flight operations run to completion against a store
// that no longer reacts.
func (s *Store) Reset() {
	s.mu.Lock()
	if s.state == Uninitialized {
		s.mu.Unlock()
		return
	}
	s.state = Uninitialized
	s.conversations = nil
	done := s.done
	s.done = nil
	s.events = nil
	updateListener := s.updateListener
	createListener := s.createListener
	s.updateListener = nil
	s.createListener = nil
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	if updateListener != nil {
		s.sock.RemoveEventListener(updateListener)
	}
	if createListener != nil {
		s.sock.RemoveEventListener(createListener)
	}
	s.sock.Reset()
}

func (s *Store) run(events <-chan serverEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			switch ev.kind {
			case eventUpdate:
				s.applyUpdate(context.Background(), ev.msg)
			case eventCreate:
				s.applyCreate(ev.msg)
			}
		}
	}
}

// cloneConversation copies deep enough that in-place record upgrades (seen
// status, reactions) never reach a snapshot handed out earlier.
func cloneConversation(c *models.Conversation) models.Conversation {
	out := *c
	out.Participants = append([]models.User(nil), c.Participants...)
	out.Messages = make([]models.Message, len(c.Messages))
	for i := range c.Messages {
		m := c.Messages[i]
		m.Reactions = append([]models.Reaction(nil), m.Reactions...)
		m.MessageUsers = append([]models.MessageRecipient(nil), m.MessageUsers...)
		out.Messages[i] = m
	}
	return out
}

func findConversation(conversations []models.Conversation, id int64) *models.Conversation {
	for i := range conversations {
		if conversations[i].ID == id {
			return &conversations[i]
		}
	}
	return nil
}
