package models

import "time"

type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

type MessageStatus string

const (
	StatusSending  MessageStatus = "sending"
	StatusSent     MessageStatus = "sent"
	StatusReceived MessageStatus = "received"
	StatusDeleted  MessageStatus = "deleted"
)

type RecipientStatus string

const (
	RecipientReceived RecipientStatus = "received"
	RecipientSeen     RecipientStatus = "seen"
)

type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionHeart ReactionType = "heart"
)

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

type User struct {
	ID         int64     `json:"id"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	AvatarURL  string    `json:"avatarUrl"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"lastActive"`
}

type Reaction struct {
	Type   ReactionType `json:"type"`
	UserID int64        `json:"userId"`
}

// MessageRecipient is one per-recipient delivery record.
type MessageRecipient struct {
	RecipientID   int64           `json:"recipientId"`
	MessageStatus RecipientStatus `json:"messageStatus"`
}

// Message is a single entry in a conversation log. Confirmed messages carry
// a positive server-assigned ID. A message created locally and not yet
// acknowledged by the server is Pending and carries a negative temporary ID;
// reconciliation matches on the Pending flag, never on the sign of the id.
type Message struct {
	ID             int64              `json:"id"`
	TempID         int64              `json:"tempId,omitempty"`
	Type           MessageType        `json:"type"`
	SenderID       int64              `json:"senderId"`
	Sender         User               `json:"sender"`
	ConversationID int64              `json:"conversationId"`
	Content        string             `json:"content"`
	FileName       string             `json:"fileName,omitempty"`
	Size           int64              `json:"size,omitempty"`
	Reactions      []Reaction         `json:"reactions"`
	MessageUsers   []MessageRecipient `json:"messageUsers"`
	Status         MessageStatus      `json:"status"`
	ReplyTo        *Message           `json:"replyTo,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`

	// Local-only fields, never sent on the wire.
	Pending  bool    `json:"-"`
	Progress float64 `json:"-"` // upload fraction in [0,1] for in-flight file sends
}

type Conversation struct {
	ID             int64            `json:"id"`
	Type           ConversationType `json:"type"`
	Title          string           `json:"title,omitempty"`
	Avatar         string           `json:"avatar,omitempty"`
	ChatBackground string           `json:"chatBackground,omitempty"`
	Participants   []User           `json:"participants"`
	Messages       []Message        `json:"messages"`
}

type Contact = User

type FriendStatus string

const (
	FriendAccepted       FriendStatus = "accepted"
	FriendRejected       FriendStatus = "rejected"
	FriendPendingRequest FriendStatus = "pendingRequest"
	FriendPendingAccept  FriendStatus = "pendingAccept"
	FriendNotAdded       FriendStatus = "notAdded"
)

type ContactDetail struct {
	User
	BackgroundURL string       `json:"backgroundUrl"`
	AboutMe       string       `json:"aboutMe"`
	Status        FriendStatus `json:"status"`
}

type IncomingRequest struct {
	User ContactDetail `json:"User"`
}

type OutgoingRequest struct {
	Target ContactDetail `json:"Target"`
}

type PendingRequests struct {
	ReceivedRequests []IncomingRequest `json:"receivedRequests"`
	SentRequests     []OutgoingRequest `json:"sentRequests"`
}

type Heartbeat struct {
	UserID     int64     `json:"userId"`
	IsOnline   bool      `json:"isOnline"`
	LastActive time.Time `json:"lastActive"`
}
