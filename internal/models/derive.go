package models

import (
	"sort"
	"time"
)

// LastActivity returns the newest updatedAt across the conversation's
// messages. Conversations with no messages sort last.
func (c *Conversation) LastActivity() time.Time {
	var last time.Time
	for i := range c.Messages {
		if c.Messages[i].UpdatedAt.After(last) {
			last = c.Messages[i].UpdatedAt
		}
	}
	return last
}

// SortByActivity orders conversations most-recent-first, in place.
func SortByActivity(conversations []Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActivity().After(conversations[j].LastActivity())
	})
}

// UnreadCount counts messages not sent by userID, not deleted, whose
// delivery record for userID is absent or still "received".
func (c *Conversation) UnreadCount(userID int64) int {
	count := 0
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.SenderID == userID || m.Status == StatusDeleted {
			continue
		}
		seen := false
		for _, mu := range m.MessageUsers {
			if mu.RecipientID == userID && mu.MessageStatus == RecipientSeen {
				seen = true
				break
			}
		}
		if !seen {
			count++
		}
	}
	return count
}

// Subtitle returns the preview line for the conversation list: the content
// of the newest non-deleted message, or "" when there is none.
func (c *Conversation) Subtitle() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Status != StatusDeleted {
			if c.Messages[i].Type == MessageFile {
				return c.Messages[i].FileName
			}
			return c.Messages[i].Content
		}
	}
	return ""
}

// NextTempID computes a fresh temporary id strictly below every id currently
// present across all conversations. Server ids are positive, so the result
// is always negative and collision-free.
func NextTempID(conversations []Conversation) int64 {
	min := int64(0)
	for i := range conversations {
		for j := range conversations[i].Messages {
			if id := conversations[i].Messages[j].ID; id < min {
				min = id
			}
		}
	}
	return min - 1
}

// CountReactions groups a reaction list by type.
func CountReactions(reactions []Reaction) map[ReactionType]int {
	counts := make(map[ReactionType]int)
	for _, r := range reactions {
		counts[r.Type]++
	}
	return counts
}

// ValidateMaxFileSize reports whether size fits within maxMB megabytes.
// 1 MB = 1e6 bytes.
func ValidateMaxFileSize(size int64, maxMB int) bool {
	return size <= int64(maxMB)*1000000
}
