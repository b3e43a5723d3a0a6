package ws

import "context"

// Socket is the channel surface the reconciliation stores program against.
// *Channel implements it; tests substitute fakes.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect()
	Reset()
	Emit(ctx context.Context, event string, data any) error
	EmitWithAck(ctx context.Context, event string, data any) (Ack, error)
	AddEventListener(l *Listener)
	RemoveEventListener(l *Listener)
}

var _ Socket = (*Channel)(nil)
