package chat

import (
	"context"
	"sort"
	"time"

	"github.com/chatlink/chatlink-go/internal/models"
)

// applyUpdate merges an authoritative message mutation. Known message:
// overwrite only when the incoming updatedAt is not older than the local
// copy's (last-write-wins by server timestamp, never by arrival order).
// Unknown message: append. Unknown conversation: fetch it whole.
func (s *Store) applyUpdate(ctx context.Context, m models.Message) {
	s.mu.Lock()
	conv := findConversation(s.conversations, m.ConversationID)
	if conv == nil {
		s.mu.Unlock()
		if _, err := s.GetConversation(ctx, Lookup{ID: m.ConversationID}); err != nil {
			s.log.Warn("fetch conversation for update failed", "conversationId", m.ConversationID, "err", err)
		}
		return
	}

	idx := indexConfirmed(conv.Messages, m.ID)
	if idx >= 0 {
		if !conv.Messages[idx].UpdatedAt.After(m.UpdatedAt) {
			conv.Messages[idx] = m
		}
	} else {
		// Created by another participant, or a race with fetchAll.
		conv.Messages = append(conv.Messages, m)
	}
	sortMessages(conv.Messages)
	models.SortByActivity(s.conversations)
	s.mu.Unlock()
}

// applyCreate reconciles the authoring client's optimistic placeholder: the
// pending message matching tempId is replaced in place, preserving its list
// position. Without a temp match this is a no-op; a message another client
// created reaches us through `update` or the next fetchAll.
func (s *Store) applyCreate(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := findConversation(s.conversations, m.ConversationID)
	if conv == nil {
		return
	}
	idx := indexPending(conv.Messages, m.TempID)
	if idx < 0 {
		return
	}

	m.TempID = 0
	m.Pending = false
	conv.Messages[idx] = m
	models.SortByActivity(s.conversations)
}

// mergeHeartbeat folds one presence result into every participant record
// with that user id. An online user's lastActive becomes "now"; an offline
// user keeps the server-reported timestamp.
func (s *Store) mergeHeartbeat(hb *models.Heartbeat) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		participants := s.conversations[i].Participants
		for j := range participants {
			if participants[j].ID != hb.UserID {
				continue
			}
			participants[j].Online = hb.IsOnline
			if hb.IsOnline {
				participants[j].LastActive = now
			} else {
				participants[j].LastActive = hb.LastActive
			}
		}
	}
}

func sortMessages(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ID < messages[j].ID
	})
}

// indexConfirmed finds a server-confirmed message by id; pending
// placeholders never match.
func indexConfirmed(messages []models.Message, id int64) int {
	for i := range messages {
		if !messages[i].Pending && messages[i].ID == id {
			return i
		}
	}
	return -1
}

// indexPending finds the optimistic placeholder carrying tempID.
func indexPending(messages []models.Message, tempID int64) int {
	for i := range messages {
		if messages[i].Pending && messages[i].ID == tempID {
			return i
		}
	}
	return -1
}
