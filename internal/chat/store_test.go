package chat

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatlink/chatlink-go/internal/creds/sqlcreds"
	"github.com/chatlink/chatlink-go/internal/logging"
	"github.com/chatlink/chatlink-go/internal/models"
	"github.com/chatlink/chatlink-go/internal/ws"
)

type fakeSocket struct {
	mu        sync.Mutex
	listeners []*ws.Listener
	handlers  map[string]func(data json.RawMessage) ws.Ack
	calls     map[string]int
	wasReset  bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		handlers: make(map[string]func(data json.RawMessage) ws.Ack),
		calls:    make(map[string]int),
	}
}

func (f *fakeSocket) Connect(ctx context.Context) error { return nil }
func (f *fakeSocket) Disconnect()                       {}

func (f *fakeSocket) Reset() {
	f.mu.Lock()
	f.wasReset = true
	f.listeners = nil
	f.mu.Unlock()
}

func (f *fakeSocket) Emit(ctx context.Context, event string, data any) error {
	f.mu.Lock()
	f.calls[event]++
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) EmitWithAck(ctx context.Context, event string, data any) (ws.Ack, error) {
	f.mu.Lock()
	f.calls[event]++
	handler := f.handlers[event]
	f.mu.Unlock()

	if handler == nil {
		return ws.Ack{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ws.Ack{}, err
	}
	return handler(raw), nil
}

func (f *fakeSocket) AddEventListener(l *ws.Listener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

func (f *fakeSocket) RemoveEventListener(l *ws.Listener) {
	f.mu.Lock()
	for i, cur := range f.listeners {
		if cur == l {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
}

func (f *fakeSocket) push(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal push payload: %v", err)
	}
	f.mu.Lock()
	listeners := make([]*ws.Listener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()
	for _, l := range listeners {
		if l.SuccessEvent == event && l.OnSuccess != nil {
			l.OnSuccess(raw)
		}
	}
}

func (f *fakeSocket) callCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[event]
}

func ackJSON(t *testing.T, v any) ws.Ack {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal ack payload: %v", err)
	}
	return ws.Ack{Data: raw}
}

type fakePresence struct {
	mu        sync.Mutex
	heartbeat map[int64]models.Heartbeat
}

func (f *fakePresence) Check(ctx context.Context, userID int64) (*models.Heartbeat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hb, ok := f.heartbeat[userID]
	if !ok {
		return nil, nil
	}
	return &hb, nil
}

type fakeUploader struct {
	url       string
	fractions []float64
}

func (f *fakeUploader) UploadConversationFile(ctx context.Context, fileName string, file io.Reader, progress func(float64)) (string, error) {
	for _, fraction := range f.fractions {
		progress(fraction)
	}
	return f.url, nil
}

func newTestStore(t *testing.T) (*Store, *fakeSocket, *fakePresence) {
	t.Helper()
	credStore, err := sqlcreds.New("sqlite3", ":memory:", [32]byte{})
	if err != nil {
		t.Fatalf("Failed to open credential store: %v", err)
	}
	t.Cleanup(func() { credStore.Close() })
	if err := credStore.SetCurrentUser(&models.User{ID: 1, FirstName: "An", LastName: "Nguyen"}); err != nil {
		t.Fatalf("Failed to set current user: %v", err)
	}

	sock := newFakeSocket()
	presence := &fakePresence{heartbeat: make(map[int64]models.Heartbeat)}
	store := New(sock, credStore, presence, &fakeUploader{url: "http://files/upload-1"}, logging.New("error"))
	return store, sock, presence
}

func confirmed(id, senderID, convID int64, updatedAt time.Time) models.Message {
	return models.Message{
		ID:             id,
		SenderID:       senderID,
		ConversationID: convID,
		Status:         models.StatusSent,
		CreatedAt:      updatedAt,
		UpdatedAt:      updatedAt,
	}
}

func privateConv(id int64, participants ...int64) models.Conversation {
	conv := models.Conversation{ID: id, Type: models.ConversationPrivate}
	for _, p := range participants {
		conv.Participants = append(conv.Participants, models.User{ID: p})
	}
	return conv
}

func TestSendMessageOptimisticPlaceholder(t *testing.T) {
	store, sock, _ := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	conv42 := privateConv(42, 1, 2)
	conv42.Messages = []models.Message{confirmed(5, 2, 42, base)}
	conv43 := privateConv(43, 1, 3)
	conv43.Messages = []models.Message{confirmed(6, 3, 43, base.Add(time.Minute))}
	store.conversations = []models.Conversation{conv43, conv42}

	sock.handlers["createMessage"] = func(json.RawMessage) ws.Ack { return ws.Ack{} }

	err := store.SendMessage(context.Background(), SendMessage{
		Type:           models.MessageText,
		ConversationID: 42,
		Content:        "hi",
		PostDate:       time.UnixMilli(1000),
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	conversations := store.Conversations()
	if conversations[0].ID != 42 {
		t.Errorf("Expected conversation 42 to be most recent, got %d", conversations[0].ID)
	}

	messages := conversations[0].Messages
	placeholder := messages[len(messages)-1]
	if placeholder.ID >= 0 {
		t.Errorf("Expected negative temp id, got %d", placeholder.ID)
	}
	if !placeholder.Pending {
		t.Error("Expected placeholder to be pending")
	}
	if placeholder.Status != models.StatusSending {
		t.Errorf("Expected status sending, got %q", placeholder.Status)
	}
	if placeholder.Content != "hi" || placeholder.ConversationID != 42 {
		t.Errorf("Unexpected placeholder: %+v", placeholder)
	}
	if sock.callCount("createMessage") != 1 {
		t.Errorf("Expected 1 createMessage ack, got %d", sock.callCount("createMessage"))
	}
}

func TestSendMessageAckErrorLeavesPlaceholderStuck(t *testing.T) {
	store, sock, _ := newTestStore(t)
	conv := privateConv(42, 1, 2)
	store.conversations = []models.Conversation{conv}

	sock.handlers["createMessage"] = func(json.RawMessage) ws.Ack {
		return ws.Ack{Error: "contentTooLong"}
	}

	err := store.SendMessage(context.Background(), SendMessage{
		Type:           models.MessageText,
		ConversationID: 42,
		Content:        "hi",
		PostDate:       time.Now(),
	})
	if err == nil {
		t.Fatal("Expected error from rejected send")
	}

	messages := store.Conversations()[0].Messages
	if len(messages) != 1 || messages[0].Status != models.StatusSending {
		t.Errorf("Expected placeholder stuck in sending, got %+v", messages)
	}
}

func TestSendFileMessageUploadsWithProgress(t *testing.T) {
	store, sock, _ := newTestStore(t)
	store.uploader = &fakeUploader{url: "http://files/photo.png", fractions: []float64{0.5, 1.0}}
	conv := privateConv(42, 1, 2)
	store.conversations = []models.Conversation{conv}

	var sent createMessagePayload
	sock.handlers["createMessage"] = func(raw json.RawMessage) ws.Ack {
		json.Unmarshal(raw, &sent)
		return ws.Ack{}
	}

	err := store.SendMessage(context.Background(), SendMessage{
		Type:           models.MessageFile,
		ConversationID: 42,
		PostDate:       time.Now(),
		FileName:       "photo.png",
		FileSize:       2048,
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if sent.Content != "http://files/photo.png" || sent.FileName != "photo.png" {
		t.Errorf("Unexpected createMessage payload: %+v", sent)
	}

	placeholder := store.Conversations()[0].Messages[0]
	if placeholder.Progress != 1.0 {
		t.Errorf("Expected progress 1.0, got %v", placeholder.Progress)
	}
	if placeholder.FileName != "photo.png" || placeholder.Size != 2048 {
		t.Errorf("Unexpected placeholder: %+v", placeholder)
	}
}

func TestCreateSpliceReplacesInPlace(t *testing.T) {
	store, _, _ := newTestStore(t)
	base := time.Now()

	conv := privateConv(42, 1, 2)
	pending := models.Message{ID: -1, Pending: true, ConversationID: 42, Status: models.StatusSending, UpdatedAt: base}
	conv.Messages = []models.Message{confirmed(5, 2, 42, base), pending, confirmed(6, 2, 42, base)}
	store.conversations = []models.Conversation{conv}

	created := confirmed(7, 1, 42, base.Add(time.Second))
	created.TempID = -1
	store.applyCreate(created)

	messages := store.conversations[0].Messages
	want := []int64{5, 7, 6}
	for i, id := range want {
		if messages[i].ID != id {
			t.Errorf("Position %d: expected id %d, got %d", i, id, messages[i].ID)
		}
	}
	if messages[1].Pending || messages[1].TempID != 0 {
		t.Errorf("Expected confirmed message at index 1, got %+v", messages[1])
	}
}

func TestCreateWithoutTempMatchIsNoop(t *testing.T) {
	store, _, _ := newTestStore(t)
	base := time.Now()
	conv := privateConv(42, 1, 2)
	conv.Messages = []models.Message{confirmed(5, 2, 42, base)}
	store.conversations = []models.Conversation{conv}

	created := confirmed(7, 2, 42, base)
	created.TempID = -99
	store.applyCreate(created)

	messages := store.conversations[0].Messages
	if len(messages) != 1 || messages[0].ID != 5 {
		t.Errorf("Expected log unchanged, got %+v", messages)
	}
}

func TestUpdateLastWriteWins(t *testing.T) {
	store, _, _ := newTestStore(t)
	t1 := time.Now()
	conv := privateConv(42, 1, 2)
	local := confirmed(10, 2, 42, t1)
	local.Content = "local"
	conv.Messages = []models.Message{local}
	store.conversations = []models.Conversation{conv}

	stale := confirmed(10, 2, 42, t1.Add(-time.Minute))
	stale.Content = "stale"
	store.applyUpdate(context.Background(), stale)
	if got := store.conversations[0].Messages[0].Content; got != "local" {
		t.Errorf("Stale update must not overwrite, got %q", got)
	}

	newer := confirmed(10, 2, 42, t1.Add(time.Minute))
	newer.Content = "newer"
	store.applyUpdate(context.Background(), newer)
	if got := store.conversations[0].Messages[0].Content; got != "newer" {
		t.Errorf("Newer update must overwrite, got %q", got)
	}
}

func TestUpdateAppendsUnknownMessage(t *testing.T) {
	store, _, _ := newTestStore(t)
	base := time.Now()
	conv := privateConv(42, 1, 2)
	conv.Messages = []models.Message{confirmed(10, 2, 42, base)}
	store.conversations = []models.Conversation{conv}

	incoming := confirmed(8, 2, 42, base.Add(time.Second))
	store.applyUpdate(context.Background(), incoming)

	messages := store.conversations[0].Messages
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	// Re-sorted ascending by id after the mutation.
	if messages[0].ID != 8 || messages[1].ID != 10 {
		t.Errorf("Expected ascending order [8 10], got [%d %d]", messages[0].ID, messages[1].ID)
	}
}

func TestUpdateUnknownConversationFetches(t *testing.T) {
	store, sock, _ := newTestStore(t)

	fetched := privateConv(99, 1, 4)
	fetched.Messages = []models.Message{confirmed(20, 4, 99, time.Now())}
	sock.handlers["details"] = func(json.RawMessage) ws.Ack {
		return ackJSON(t, map[string]any{"data": fetched})
	}

	store.applyUpdate(context.Background(), confirmed(20, 4, 99, time.Now()))

	if sock.callCount("details") != 1 {
		t.Errorf("Expected 1 details call, got %d", sock.callCount("details"))
	}
	if len(store.Conversations()) != 1 || store.Conversations()[0].ID != 99 {
		t.Errorf("Expected conversation 99 inserted, got %+v", store.Conversations())
	}
}

func TestGetConversationDeDupByParticipantPair(t *testing.T) {
	store, sock, _ := newTestStore(t)
	store.conversations = []models.Conversation{privateConv(7, 1, 2)}

	for i := 0; i < 2; i++ {
		conv, err := store.GetConversation(context.Background(), Lookup{TargetID: 2})
		if err != nil {
			t.Fatalf("GetConversation failed: %v", err)
		}
		if conv.ID != 7 {
			t.Errorf("Expected conversation 7, got %d", conv.ID)
		}
	}
	if sock.callCount("createPrivate") != 0 {
		t.Errorf("Expected no createPrivate calls, got %d", sock.callCount("createPrivate"))
	}
}

func TestGetConversationCreatesPrivateWhenUnknown(t *testing.T) {
	store, sock, _ := newTestStore(t)
	sock.handlers["createPrivate"] = func(json.RawMessage) ws.Ack {
		return ackJSON(t, map[string]any{"data": privateConv(12, 1, 5)})
	}

	conv, err := store.GetConversation(context.Background(), Lookup{TargetID: 5})
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.ID != 12 {
		t.Errorf("Expected conversation 12, got %d", conv.ID)
	}
	if sock.callCount("createPrivate") != 1 {
		t.Errorf("Expected 1 createPrivate call, got %d", sock.callCount("createPrivate"))
	}
	if len(store.Conversations()) != 1 {
		t.Errorf("Expected conversation inserted locally")
	}
}

func TestUpdateMessagesSeenStatus(t *testing.T) {
	store, sock, _ := newTestStore(t)
	conv := privateConv(42, 1, 2)
	conv.Messages = []models.Message{confirmed(501, 2, 42, time.Now())}
	store.conversations = []models.Conversation{conv}

	sock.handlers["updateMessageStatus"] = func(json.RawMessage) ws.Ack { return ws.Ack{} }

	if err := store.UpdateMessagesSeenStatus(context.Background(), 42, []int64{501}); err != nil {
		t.Fatalf("UpdateMessagesSeenStatus failed: %v", err)
	}

	if sock.callCount("updateMessageStatus") != 1 {
		t.Errorf("Expected 1 updateMessageStatus ack, got %d", sock.callCount("updateMessageStatus"))
	}
	records := store.Conversations()[0].Messages[0].MessageUsers
	if len(records) != 1 || records[0].RecipientID != 1 || records[0].MessageStatus != models.RecipientSeen {
		t.Errorf("Expected seen record for user 1, got %+v", records)
	}
}

func TestUpdateMessagesSeenStatusUpgradesExistingRecord(t *testing.T) {
	store, sock, _ := newTestStore(t)
	conv := privateConv(42, 1, 2)
	m := confirmed(501, 2, 42, time.Now())
	m.MessageUsers = []models.MessageRecipient{{RecipientID: 1, MessageStatus: models.RecipientReceived}}
	conv.Messages = []models.Message{m}
	store.conversations = []models.Conversation{conv}
	sock.handlers["updateMessageStatus"] = func(json.RawMessage) ws.Ack { return ws.Ack{} }

	if err := store.UpdateMessagesSeenStatus(context.Background(), 42, []int64{501}); err != nil {
		t.Fatalf("UpdateMessagesSeenStatus failed: %v", err)
	}

	records := store.Conversations()[0].Messages[0].MessageUsers
	if len(records) != 1 || records[0].MessageStatus != models.RecipientSeen {
		t.Errorf("Expected record upgraded to seen, got %+v", records)
	}
}

func TestConversationsSnapshotUnaffectedByLaterWrites(t *testing.T) {
	store, sock, _ := newTestStore(t)
	conv := privateConv(42, 1, 2)
	m := confirmed(501, 2, 42, time.Now())
	m.MessageUsers = []models.MessageRecipient{{RecipientID: 1, MessageStatus: models.RecipientReceived}}
	m.Reactions = []models.Reaction{{Type: models.ReactionLike, UserID: 2}}
	conv.Messages = []models.Message{m}
	store.conversations = []models.Conversation{conv}
	sock.handlers["updateMessageStatus"] = func(json.RawMessage) ws.Ack { return ws.Ack{} }

	snapshot := store.Conversations()

	if err := store.UpdateMessagesSeenStatus(context.Background(), 42, []int64{501}); err != nil {
		t.Fatalf("UpdateMessagesSeenStatus failed: %v", err)
	}

	records := snapshot[0].Messages[0].MessageUsers
	if len(records) != 1 || records[0].MessageStatus != models.RecipientReceived {
		t.Errorf("Snapshot mutated after the fact: %+v", records)
	}

	// The live store did move on.
	current := store.Conversations()[0].Messages[0].MessageUsers
	if len(current) != 1 || current[0].MessageStatus != models.RecipientSeen {
		t.Errorf("Expected live record upgraded to seen, got %+v", current)
	}

	// Writes through a snapshot stay local to it as well.
	snapshot[0].Messages[0].Reactions[0].UserID = 99
	if got := store.Conversations()[0].Messages[0].Reactions[0].UserID; got != 2 {
		t.Errorf("Snapshot write leaked into the store: user %d", got)
	}
}

func TestInitSubscribesOnceAndSplicesPush(t *testing.T) {
	store, sock, _ := newTestStore(t)
	base := time.Now()
	conv := privateConv(42, 1, 2)
	conv.Messages = []models.Message{
		confirmed(5, 2, 42, base),
		{ID: -1, Pending: true, ConversationID: 42, Status: models.StatusSending, UpdatedAt: base},
		confirmed(6, 2, 42, base),
	}
	store.conversations = []models.Conversation{conv}

	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Second Init failed: %v", err)
	}
	defer store.Reset()

	if store.State() != Ready {
		t.Errorf("Expected Ready state, got %v", store.State())
	}
	if len(sock.listeners) != 2 {
		t.Fatalf("Expected 2 listeners after double init, got %d", len(sock.listeners))
	}

	created := confirmed(501, 1, 42, base.Add(time.Second))
	created.TempID = -1
	sock.push(t, "create", created)

	// Give the drain loop time to apply the event.
	time.Sleep(100 * time.Millisecond)

	messages := store.Conversations()[0].Messages
	want := []int64{5, 501, 6}
	for i, id := range want {
		if messages[i].ID != id {
			t.Errorf("Position %d: expected id %d, got %d", i, id, messages[i].ID)
		}
	}
}

func TestResetDropsStateAndListeners(t *testing.T) {
	store, sock, _ := newTestStore(t)
	store.conversations = []models.Conversation{privateConv(42, 1, 2)}

	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	store.Reset()

	if store.State() != Uninitialized {
		t.Errorf("Expected Uninitialized after reset, got %v", store.State())
	}
	if len(store.Conversations()) != 0 {
		t.Error("Expected conversations cleared")
	}
	if !sock.wasReset {
		t.Error("Expected socket reset")
	}

	// Init works again after a reset.
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Re-init failed: %v", err)
	}
	store.Reset()
}

func TestInitResetConcurrent(t *testing.T) {
	store, _, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				store.Init(context.Background())
				store.Reset()
			}
		}()
	}
	wg.Wait()
	store.Reset()
}

func TestGetConversationsReplacesAll(t *testing.T) {
	store, sock, _ := newTestStore(t)
	store.conversations = []models.Conversation{privateConv(1, 1, 9)}

	base := time.Now()
	older := privateConv(2, 1, 2)
	older.Messages = []models.Message{confirmed(1, 2, 2, base.Add(-time.Hour))}
	newer := privateConv(3, 1, 3)
	newer.Messages = []models.Message{confirmed(2, 3, 3, base)}
	sock.handlers["fetchAll"] = func(json.RawMessage) ws.Ack {
		return ackJSON(t, map[string]any{"data": []models.Conversation{older, newer}})
	}

	if err := store.GetConversations(context.Background()); err != nil {
		t.Fatalf("GetConversations failed: %v", err)
	}

	conversations := store.Conversations()
	if len(conversations) != 2 {
		t.Fatalf("Expected 2 conversations, got %d", len(conversations))
	}
	if conversations[0].ID != 3 || conversations[1].ID != 2 {
		t.Errorf("Expected order [3 2], got [%d %d]", conversations[0].ID, conversations[1].ID)
	}
}

func TestCreateGroup(t *testing.T) {
	store, sock, _ := newTestStore(t)
	group := models.Conversation{ID: 77, Type: models.ConversationGroup, Title: "hiking"}
	sock.handlers["createGroup"] = func(json.RawMessage) ws.Ack {
		return ackJSON(t, map[string]any{"data": group})
	}

	created, err := store.CreateGroup(context.Background(), "hiking", []int64{2, 3})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if created.ID != 77 || created.Title != "hiking" {
		t.Errorf("Unexpected group: %+v", created)
	}
	if len(store.Conversations()) != 1 {
		t.Error("Expected group inserted locally")
	}
}

func TestRemoveMessageSoftDeleteFiltersLocally(t *testing.T) {
	store, sock, _ := newTestStore(t)
	base := time.Now()
	conv := privateConv(42, 1, 2)
	conv.Messages = []models.Message{confirmed(10, 2, 42, base), confirmed(11, 2, 42, base)}
	store.conversations = []models.Conversation{conv}
	sock.handlers["softRemoveMessage"] = func(json.RawMessage) ws.Ack { return ws.Ack{} }

	if err := store.RemoveMessage(context.Background(), 10); err != nil {
		t.Fatalf("RemoveMessage failed: %v", err)
	}

	messages := store.Conversations()[0].Messages
	if len(messages) != 1 || messages[0].ID != 11 {
		t.Errorf("Expected only message 11 left, got %+v", messages)
	}
}

func TestRetrieveMessageReplacesWithDeletedPlaceholder(t *testing.T) {
	store, sock, _ := newTestStore(t)
	base := time.Now()
	conv := privateConv(42, 1, 2)
	conv.Messages = []models.Message{confirmed(10, 1, 42, base)}
	store.conversations = []models.Conversation{conv}

	deleted := confirmed(10, 1, 42, base.Add(time.Second))
	deleted.Status = models.StatusDeleted
	sock.handlers["removeMessage"] = func(json.RawMessage) ws.Ack {
		return ackJSON(t, map[string]any{"data": deleted})
	}

	if err := store.RetrieveMessage(context.Background(), 10); err != nil {
		t.Fatalf("RetrieveMessage failed: %v", err)
	}

	messages := store.Conversations()[0].Messages
	if len(messages) != 1 || messages[0].Status != models.StatusDeleted {
		t.Errorf("Expected deleted placeholder in place, got %+v", messages)
	}
}

func TestReactToMessageOverwrites(t *testing.T) {
	store, sock, _ := newTestStore(t)
	base := time.Now()
	conv := privateConv(42, 1, 2)
	conv.Messages = []models.Message{confirmed(10, 2, 42, base)}
	store.conversations = []models.Conversation{conv}

	reacted := confirmed(10, 2, 42, base.Add(time.Second))
	reacted.Reactions = []models.Reaction{{Type: models.ReactionHeart, UserID: 1}}
	sock.handlers["reactMessage"] = func(json.RawMessage) ws.Ack {
		return ackJSON(t, map[string]any{"data": reacted})
	}

	if err := store.ReactToMessage(context.Background(), 10, models.ReactionHeart); err != nil {
		t.Fatalf("ReactToMessage failed: %v", err)
	}

	reactions := store.Conversations()[0].Messages[0].Reactions
	if len(reactions) != 1 || reactions[0].Type != models.ReactionHeart {
		t.Errorf("Expected heart reaction, got %+v", reactions)
	}
}

func TestRemoveConversation(t *testing.T) {
	store, sock, _ := newTestStore(t)
	store.conversations = []models.Conversation{privateConv(42, 1, 2), privateConv(43, 1, 3)}
	sock.handlers["removeConversation"] = func(json.RawMessage) ws.Ack { return ws.Ack{} }

	if err := store.RemoveConversation(context.Background(), 42); err != nil {
		t.Fatalf("RemoveConversation failed: %v", err)
	}

	conversations := store.Conversations()
	if len(conversations) != 1 || conversations[0].ID != 43 {
		t.Errorf("Expected only conversation 43 left, got %+v", conversations)
	}
}

func TestUpdateAllHeartbeatsMergesParticipants(t *testing.T) {
	store, _, presence := newTestStore(t)
	lastActive := time.Now().Add(-2 * time.Hour)
	presence.heartbeat[2] = models.Heartbeat{UserID: 2, IsOnline: false, LastActive: lastActive}
	presence.heartbeat[3] = models.Heartbeat{UserID: 3, IsOnline: true}

	conv := privateConv(42, 1, 2)
	group := models.Conversation{
		ID:           50,
		Type:         models.ConversationGroup,
		Participants: []models.User{{ID: 1}, {ID: 2}, {ID: 3}},
	}
	store.conversations = []models.Conversation{conv, group}

	if err := store.UpdateAllHeartbeats(context.Background()); err != nil {
		t.Fatalf("UpdateAllHeartbeats failed: %v", err)
	}

	for _, c := range store.Conversations() {
		for _, p := range c.Participants {
			switch p.ID {
			case 2:
				if p.Online || !p.LastActive.Equal(lastActive) {
					t.Errorf("Conversation %d: unexpected presence for user 2: %+v", c.ID, p)
				}
			case 3:
				if !p.Online || time.Since(p.LastActive) > time.Minute {
					t.Errorf("Conversation %d: unexpected presence for user 3: %+v", c.ID, p)
				}
			}
		}
	}
}
