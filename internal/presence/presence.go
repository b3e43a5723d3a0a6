package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatlink/chatlink-go/internal/models"
	"github.com/chatlink/chatlink-go/internal/ws"
)

// Client speaks the user channel's presence events.
type Client struct {
	sock ws.Socket
}

func NewClient(sock ws.Socket) *Client {
	return &Client{sock: sock}
}

// Announce signals local liveness.
func (c *Client) Announce(ctx context.Context) error {
	_, err := c.sock.EmitWithAck(ctx, "heartbeat", nil)
	return err
}

// Check polls one user's online/last-active state.
func (c *Client) Check(ctx context.Context, userID int64) (*models.Heartbeat, error) {
	ack, err := c.sock.EmitWithAck(ctx, "check-heartbeat", map[string]int64{"userId": userID})
	if err != nil {
		return nil, err
	}
	if ack.Error != "" || len(ack.Data) == 0 {
		return nil, nil
	}
	var payload struct {
		Data models.Heartbeat `json:"data"`
	}
	if err := ack.JSON(&payload); err != nil {
		return nil, err
	}
	return &payload.Data, nil
}

// Refresher is the store-side half of the loop: it re-polls presence for
// every visible participant.
type Refresher interface {
	UpdateAllHeartbeats(ctx context.Context) error
}

// Loop periodically announces local liveness and refreshes every visible
// participant's presence.
type Loop struct {
	client   *Client
	refresh  Refresher
	interval time.Duration
	log      *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
}

func NewLoop(client *Client, refresh Refresher, interval time.Duration, log *slog.Logger) *Loop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Loop{client: client, refresh: refresh, interval: interval, log: log}
}

// Start launches the loop. Calling Start on a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	stop := make(chan struct{})
	l.stop = stop
	go l.run(ctx, stop)
}

// Stop halts the loop; in-flight polls run to completion.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

func (l *Loop) run(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if err := l.client.Announce(ctx); err != nil {
		l.log.Warn("heartbeat announce failed", "err", err)
	}
	if err := l.refresh.UpdateAllHeartbeats(ctx); err != nil {
		l.log.Warn("heartbeat refresh failed", "err", err)
	}
}
