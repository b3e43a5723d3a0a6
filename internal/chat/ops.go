package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/chatlink/chatlink-go/internal/models"
	"github.com/chatlink/chatlink-go/internal/ws"
)

// SendMessage describes one outbound message. For file sends, File/FileName/
// FileSize carry the payload and Content is ignored until the upload returns
// the remote URL.
type SendMessage struct {
	Type           models.MessageType
	ConversationID int64
	Content        string
	PostDate       time.Time
	ReplyTo        int64
	File           io.Reader
	FileName       string
	FileSize       int64
}

type createMessagePayload struct {
	Type           models.MessageType `json:"type"`
	ConversationID int64              `json:"conversationId"`
	Content        string             `json:"content"`
	PostDate       time.Time          `json:"postDate"`
	ReplyTo        int64              `json:"replyTo,omitempty"`
	FileName       string             `json:"fileName,omitempty"`
}

// SendMessage inserts an optimistic placeholder immediately, then asks the
// server to persist the message. A failed send leaves the placeholder stuck
// in "sending"; the server's later create/update push or a full refresh is
// the only resolution path.
func (s *Store) SendMessage(ctx context.Context, dto SendMessage) error {
	user, err := s.creds.CurrentUser()
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNoCurrentUser
	}

	now := time.Now()
	sender := *user
	sender.Online = true
	sender.LastActive = now

	s.mu.Lock()
	conv := findConversation(s.conversations, dto.ConversationID)
	if conv == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	tempID := models.NextTempID(s.conversations)
	placeholder := models.Message{
		ID:             tempID,
		Pending:        true,
		Type:           dto.Type,
		SenderID:       user.ID,
		Sender:         sender,
		ConversationID: dto.ConversationID,
		Content:        dto.Content,
		Reactions:      []models.Reaction{},
		MessageUsers:   []models.MessageRecipient{},
		Status:         models.StatusSending,
		CreatedAt:      dto.PostDate,
		UpdatedAt:      now,
	}
	if dto.ReplyTo != 0 {
		if idx := indexConfirmed(conv.Messages, dto.ReplyTo); idx >= 0 {
			replied := conv.Messages[idx]
			placeholder.ReplyTo = &replied
		}
	}
	if dto.Type == models.MessageFile {
		placeholder.Content = ""
		placeholder.FileName = dto.FileName
		placeholder.Size = dto.FileSize
	}
	conv.Messages = append(conv.Messages, placeholder)
	models.SortByActivity(s.conversations)
	s.mu.Unlock()

	payload := createMessagePayload{
		Type:           dto.Type,
		ConversationID: dto.ConversationID,
		Content:        dto.Content,
		PostDate:       dto.PostDate,
		ReplyTo:        dto.ReplyTo,
	}

	if dto.Type == models.MessageFile {
		url, err := s.uploader.UploadConversationFile(ctx, dto.FileName, dto.File, func(fraction float64) {
			s.setProgress(tempID, fraction)
		})
		if err != nil {
			return err
		}
		payload.Content = url
		payload.FileName = dto.FileName
	}

	ack, err := s.sock.EmitWithAck(ctx, "createMessage", payload)
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("createMessage rejected: %s", ack.Error)
	}
	return nil
}

func (s *Store) setProgress(tempID int64, fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		messages := s.conversations[i].Messages
		if idx := indexPending(messages, tempID); idx >= 0 {
			messages[idx].Progress = fraction
			return
		}
	}
}

// Lookup selects a conversation by its id, by the other party of a private
// conversation, or both.
type Lookup struct {
	ID       int64
	TargetID int64
}

// GetConversation resolves local-first: a known id, or (private only) a
// participant set of exactly {current user, target}, never re-asks the
// server. Otherwise it fetches `details` for a known id or `createPrivate`
// for a fresh target and inserts the result.
func (s *Store) GetConversation(ctx context.Context, q Lookup) (*models.Conversation, error) {
	user, err := s.creds.CurrentUser()
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNoCurrentUser
	}

	s.mu.RLock()
	if q.ID != 0 {
		if conv := findConversation(s.conversations, q.ID); conv != nil {
			out := cloneConversation(conv)
			s.mu.RUnlock()
			return &out, nil
		}
	}
	if q.TargetID != 0 {
		if conv := findPrivateByPair(s.conversations, user.ID, q.TargetID); conv != nil {
			out := cloneConversation(conv)
			s.mu.RUnlock()
			return &out, nil
		}
	}
	s.mu.RUnlock()

	var ack ws.Ack
	if q.ID != 0 {
		ack, err = s.sock.EmitWithAck(ctx, "details", q.ID)
	} else {
		ack, err = s.sock.EmitWithAck(ctx, "createPrivate", map[string]int64{"targetId": q.TargetID})
	}
	if err != nil {
		return nil, err
	}
	if ack.Error != "" {
		return nil, fmt.Errorf("get conversation: %s", ack.Error)
	}

	var payload struct {
		Data models.Conversation `json:"data"`
	}
	if err := ack.JSON(&payload); err != nil {
		return nil, err
	}
	conv := payload.Data

	s.mu.Lock()
	s.conversations = append(s.conversations, conv)
	models.SortByActivity(s.conversations)
	s.mu.Unlock()
	return &conv, nil
}

// GetConversations replaces the whole local list from the server.
func (s *Store) GetConversations(ctx context.Context) error {
	ack, err := s.sock.EmitWithAck(ctx, "fetchAll", nil)
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("fetchAll: %s", ack.Error)
	}

	var payload struct {
		Data []models.Conversation `json:"data"`
	}
	if err := ack.JSON(&payload); err != nil {
		return err
	}

	s.mu.Lock()
	s.conversations = payload.Data
	models.SortByActivity(s.conversations)
	s.mu.Unlock()
	return nil
}

// UpdateMessagesSeenStatus acknowledges the given messages server-side (all
// acks fired concurrently), then upgrades the current user's delivery record
// on each to "seen", inserting a record where none existed.
func (s *Store) UpdateMessagesSeenStatus(ctx context.Context, conversationID int64, messageIDs []int64) error {
	var wg sync.WaitGroup
	for _, id := range messageIDs {
		wg.Add(1)
		go func(messageID int64) {
			defer wg.Done()
			if _, err := s.sock.EmitWithAck(ctx, "updateMessageStatus", map[string]int64{"messageId": messageID}); err != nil {
				s.log.Warn("updateMessageStatus failed", "messageId", messageID, "err", err)
			}
		}(id)
	}
	wg.Wait()

	user, err := s.creds.CurrentUser()
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNoCurrentUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv := findConversation(s.conversations, conversationID)
	if conv == nil {
		return nil
	}
	for _, id := range messageIDs {
		idx := indexConfirmed(conv.Messages, id)
		if idx < 0 {
			continue
		}
		m := &conv.Messages[idx]
		upgraded := false
		for j := range m.MessageUsers {
			if m.MessageUsers[j].RecipientID == user.ID {
				m.MessageUsers[j].MessageStatus = models.RecipientSeen
				upgraded = true
				break
			}
		}
		if !upgraded {
			m.MessageUsers = append(m.MessageUsers, models.MessageRecipient{
				RecipientID:   user.ID,
				MessageStatus: models.RecipientSeen,
			})
		}
	}
	models.SortByActivity(s.conversations)
	return nil
}

// CreateGroup creates a group conversation and inserts it locally.
func (s *Store) CreateGroup(ctx context.Context, name string, memberIDs []int64) (*models.Conversation, error) {
	ack, err := s.sock.EmitWithAck(ctx, "createGroup", map[string]any{
		"title":          name,
		"participantIds": memberIDs,
	})
	if err != nil {
		return nil, err
	}
	if ack.Error != "" {
		return nil, fmt.Errorf("createGroup: %s", ack.Error)
	}

	var payload struct {
		Data models.Conversation `json:"data"`
	}
	if err := ack.JSON(&payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conversations = append(s.conversations, payload.Data)
	models.SortByActivity(s.conversations)
	s.mu.Unlock()
	return &payload.Data, nil
}

// RemoveConversation deletes the conversation server-side, then locally.
func (s *Store) RemoveConversation(ctx context.Context, conversationID int64) error {
	ack, err := s.sock.EmitWithAck(ctx, "removeConversation", map[string]int64{"conversationId": conversationID})
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("removeConversation: %s", ack.Error)
	}
	s.dropConversation(conversationID)
	return nil
}

// LeaveGroup exits a group conversation and drops it locally.
func (s *Store) LeaveGroup(ctx context.Context, conversationID int64) error {
	ack, err := s.sock.EmitWithAck(ctx, "leaveGroup", map[string]int64{"conversationId": conversationID})
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("leaveGroup: %s", ack.Error)
	}
	s.dropConversation(conversationID)
	return nil
}

func (s *Store) dropConversation(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.conversations[:0]
	for _, c := range s.conversations {
		if c.ID != conversationID {
			kept = append(kept, c)
		}
	}
	s.conversations = kept
}

// RemoveMessage soft-deletes: the server hides the message for this user
// only and the local log simply filters it out, no placeholder. The other
// participant keeps seeing it.
func (s *Store) RemoveMessage(ctx context.Context, messageID int64) error {
	ack, err := s.sock.EmitWithAck(ctx, "softRemoveMessage", map[string]int64{"messageId": messageID})
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("softRemoveMessage: %s", ack.Error)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		conv := &s.conversations[i]
		kept := conv.Messages[:0]
		for _, m := range conv.Messages {
			if m.Pending || m.ID != messageID {
				kept = append(kept, m)
			}
		}
		conv.Messages = kept
	}
	models.SortByActivity(s.conversations)
	return nil
}

// RetrieveMessage hard-deletes for both sides: the server returns the
// deleted placeholder record, which overwrites the message in place.
func (s *Store) RetrieveMessage(ctx context.Context, messageID int64) error {
	ack, err := s.sock.EmitWithAck(ctx, "removeMessage", map[string]int64{"messageId": messageID})
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("removeMessage: %s", ack.Error)
	}

	var payload struct {
		Data *models.Message `json:"data"`
	}
	if err := ack.JSON(&payload); err != nil {
		return err
	}
	if payload.Data == nil {
		return nil
	}
	s.overwriteMessage(*payload.Data)
	return nil
}

// ReactToMessage is deliberately not optimistic: it waits for the server's
// reaction result and overwrites the target message in place.
func (s *Store) ReactToMessage(ctx context.Context, messageID int64, reaction models.ReactionType) error {
	ack, err := s.sock.EmitWithAck(ctx, "reactMessage", map[string]any{
		"messageId":    messageID,
		"reactionType": reaction,
	})
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return fmt.Errorf("reactMessage: %s", ack.Error)
	}

	var payload struct {
		Data *models.Message `json:"data"`
	}
	if err := ack.JSON(&payload); err != nil {
		return err
	}
	if payload.Data == nil {
		return nil
	}
	s.overwriteMessage(*payload.Data)
	return nil
}

func (s *Store) overwriteMessage(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		messages := s.conversations[i].Messages
		if idx := indexConfirmed(messages, m.ID); idx >= 0 {
			messages[idx] = m
		}
	}
	models.SortByActivity(s.conversations)
}

// UpdateHeartbeat refreshes presence for one user across every conversation.
func (s *Store) UpdateHeartbeat(ctx context.Context, userID int64) error {
	hb, err := s.presence.Check(ctx, userID)
	if err != nil {
		return err
	}
	if hb != nil {
		s.mergeHeartbeat(hb)
	}
	return nil
}

// UpdateAllHeartbeats polls presence for every participant currently visible
// across local conversations and merges the results.
func (s *Store) UpdateAllHeartbeats(ctx context.Context) error {
	s.mu.RLock()
	seen := make(map[int64]bool)
	var ids []int64
	for i := range s.conversations {
		for _, p := range s.conversations[i].Participants {
			if !seen[p.ID] {
				seen[p.ID] = true
				ids = append(ids, p.ID)
			}
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	results := make([]*models.Heartbeat, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			hb, err := s.presence.Check(ctx, userID)
			if err != nil {
				s.log.Warn("heartbeat check failed", "userId", userID, "err", err)
				return
			}
			results[i] = hb
		}(i, id)
	}
	wg.Wait()

	for _, hb := range results {
		if hb != nil {
			s.mergeHeartbeat(hb)
		}
	}
	return nil
}

// findPrivateByPair matches a private conversation whose participant set is
// exactly the unordered pair {userID, targetID}.
func findPrivateByPair(conversations []models.Conversation, userID, targetID int64) *models.Conversation {
	for i := range conversations {
		c := &conversations[i]
		if c.Type != models.ConversationPrivate || len(c.Participants) != 2 {
			continue
		}
		var hasUser, hasTarget bool
		for _, p := range c.Participants {
			switch p.ID {
			case userID:
				hasUser = true
			case targetID:
				hasTarget = true
			}
		}
		if hasUser && hasTarget {
			return c
		}
	}
	return nil
}
