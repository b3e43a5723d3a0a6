package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chatlink/chatlink-go/internal/creds"
	"github.com/chatlink/chatlink-go/internal/models"
	"github.com/chatlink/chatlink-go/internal/ws"
)

var ErrNoCurrentUser = errors.New("contacts: no current user")

// FriendStatusPayload is the ack result of every friend-request mutation:
// the other party's contact detail after the transition.
type FriendStatusPayload struct {
	User   models.ContactDetail `json:"user"`
	Status models.FriendStatus  `json:"status"`
}

// Store maintains the friend graph: the contact list and pending incoming/
// outgoing requests. Nothing here is optimistic; every mutation waits for
// server confirmation before touching local state.
type Store struct {
	log   *slog.Logger
	sock  ws.Socket
	creds creds.Store

	mu          sync.RWMutex
	initialized bool
	contacts    []models.Contact
	pending     models.PendingRequests

	statusListener *ws.Listener
}

func New(sock ws.Socket, store creds.Store, log *slog.Logger) *Store {
	return &Store{log: log, sock: sock, creds: store}
}

func (s *Store) Contacts() []models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Contact(nil), s.contacts...)
}

func (s *Store) PendingRequests() models.PendingRequests {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.PendingRequests{
		ReceivedRequests: append([]models.IncomingRequest(nil), s.pending.ReceivedRequests...),
		SentRequests:     append([]models.OutgoingRequest(nil), s.pending.SentRequests...),
	}
}

// Init connects the contacts channel and subscribes to friendStatus pushes.
// Idempotent.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	if err := s.sock.Connect(ctx); err != nil {
		s.mu.Lock()
		s.initialized = false
		s.mu.Unlock()
		return err
	}

	listener := &ws.Listener{
		SuccessEvent: "friendStatus",
		OnSuccess: func(data json.RawMessage) {
			var payload FriendStatusPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				s.log.Warn("discarding malformed friendStatus push", "err", err)
				return
			}
			s.log.Debug("friend status changed", "userId", payload.User.ID, "status", payload.Status)
		},
	}
	s.sock.AddEventListener(listener)

	s.mu.Lock()
	s.statusListener = listener
	s.mu.Unlock()
	return nil
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.initialized = false
	s.contacts = nil
	s.pending = models.PendingRequests{}
	listener := s.statusListener
	s.statusListener = nil
	s.mu.Unlock()

	if listener != nil {
		s.sock.RemoveEventListener(listener)
	}
	s.sock.Reset()
}

// GetContacts refreshes the whole contact list from the server.
func (s *Store) GetContacts(ctx context.Context) error {
	var payload struct {
		Data []models.Contact `json:"data"`
	}
	if err := s.call(ctx, "fetchAll", nil, &payload); err != nil {
		return err
	}
	s.mu.Lock()
	s.contacts = payload.Data
	s.mu.Unlock()
	return nil
}

// SearchContacts is a stateless server-side search; results are not cached.
func (s *Store) SearchContacts(ctx context.Context, query string) ([]models.Contact, error) {
	var payload struct {
		Data []models.Contact `json:"data"`
	}
	if err := s.call(ctx, "search", map[string]string{"query": query}, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// GetContact fetches one contact's full detail, including the directional
// friendship status relative to the current user.
func (s *Store) GetContact(ctx context.Context, contactID int64) (*models.ContactDetail, error) {
	user, err := s.creds.CurrentUser()
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoCurrentUser
	}

	var payload struct {
		Data models.ContactDetail `json:"data"`
	}
	err = s.call(ctx, "fetch", map[string]int64{"userId": user.ID, "contactId": contactID}, &payload)
	if err != nil {
		return nil, err
	}
	return &payload.Data, nil
}

// GetPendingRequests refreshes both pending-request lists.
func (s *Store) GetPendingRequests(ctx context.Context) error {
	var payload struct {
		Data models.PendingRequests `json:"data"`
	}
	if err := s.call(ctx, "friendRequestList", nil, &payload); err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = payload.Data
	s.mu.Unlock()
	return nil
}

// SendFriendRequest creates the outgoing edge and appends it to
// sentRequests once confirmed.
func (s *Store) SendFriendRequest(ctx context.Context, senderID, receiverID int64) (*FriendStatusPayload, error) {
	payload, err := s.mutate(ctx, "sendFriendRequest", senderID, receiverID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.pending.SentRequests = append(s.pending.SentRequests, models.OutgoingRequest{Target: payload.User})
	s.mu.Unlock()
	return payload, nil
}

// CancelFriendRequest withdraws an outgoing request.
func (s *Store) CancelFriendRequest(ctx context.Context, senderID, receiverID int64) (*FriendStatusPayload, error) {
	payload, err := s.mutate(ctx, "cancelFriendRequest", senderID, receiverID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	kept := s.pending.SentRequests[:0]
	for _, r := range s.pending.SentRequests {
		if r.Target.ID != payload.User.ID {
			kept = append(kept, r)
		}
	}
	s.pending.SentRequests = kept
	s.mu.Unlock()
	return payload, nil
}

// AcceptFriendRequest moves the sender from receivedRequests into contacts.
func (s *Store) AcceptFriendRequest(ctx context.Context, senderID, receiverID int64) (*FriendStatusPayload, error) {
	payload, err := s.mutate(ctx, "acceptFriendRequest", senderID, receiverID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.contacts = append(s.contacts, payload.User.User)
	s.dropReceivedLocked(payload.User.ID)
	s.mu.Unlock()
	return payload, nil
}

// RejectFriendRequest drops the incoming request.
func (s *Store) RejectFriendRequest(ctx context.Context, senderID, receiverID int64) (*FriendStatusPayload, error) {
	payload, err := s.mutate(ctx, "rejectFriendRequest", senderID, receiverID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.dropReceivedLocked(payload.User.ID)
	s.mu.Unlock()
	return payload, nil
}

// Unfriend removes an accepted contact on both sides.
func (s *Store) Unfriend(ctx context.Context, contactID int64) error {
	user, err := s.creds.CurrentUser()
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNoCurrentUser
	}

	if err := s.call(ctx, "unfriend", map[string]int64{"userId": user.ID, "contactId": contactID}, nil); err != nil {
		return err
	}
	s.mu.Lock()
	kept := s.contacts[:0]
	for _, c := range s.contacts {
		if c.ID != contactID {
			kept = append(kept, c)
		}
	}
	s.contacts = kept
	s.mu.Unlock()
	return nil
}

func (s *Store) dropReceivedLocked(userID int64) {
	kept := s.pending.ReceivedRequests[:0]
	for _, r := range s.pending.ReceivedRequests {
		if r.User.ID != userID {
			kept = append(kept, r)
		}
	}
	s.pending.ReceivedRequests = kept
}

func (s *Store) mutate(ctx context.Context, event string, senderID, receiverID int64) (*FriendStatusPayload, error) {
	var payload struct {
		Data FriendStatusPayload `json:"data"`
	}
	err := s.call(ctx, event, map[string]int64{"senderId": senderID, "receiverId": receiverID}, &payload)
	if err != nil {
		return nil, err
	}
	return &payload.Data, nil
}

func (s *Store) call(ctx context.Context, event string, data any, out any) error {
	ack, err := s.sock.EmitWithAck(ctx, event, data)
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("%s: %s", event, ack.Error)
	}
	if out == nil || len(ack.Data) == 0 {
		return nil
	}
	return ack.JSON(out)
}
