package worker

import (
	"context"
	"fmt"

	"github.com/jrjohn/arcana-queue/internal/jobs"
)

// MessageType names the kind of a unit message
type MessageType string

const (
	MessageRun    MessageType = "run"
	MessageResult MessageType = "result"
	MessageError  MessageType = "error"
	MessagePing   MessageType = "ping"
	MessagePong   MessageType = "pong"
)

// Message is the only thing exchanged with an execution unit.
// Requests are run or ping; replies are result, error or pong and carry the
// request ID back.
//
// Rejected marks an error reply produced by the pool itself, for a
// submission it dropped on shutdown. Errors returned by Func never set it,
// whatever their code.
type Message struct {
	ID       string      `json:"id"`
	Type     MessageType `json:"type"`
	Data     any         `json:"data,omitempty"`
	Err      error       `json:"-"`
	Rejected bool        `json:"rejected,omitempty"`
}

// Func is the work a unit performs for each run message
type Func func(ctx context.Context, data any) (any, error)

// envelope carries a message plus the routing sequence number the pool uses
// to find the waiting caller.
type envelope struct {
	seq  uint64
	unit int
	ctx  context.Context
	msg  Message
}

// unit is one execution context. It handles a single message at a time and
// never shares state with the pool except through its channels.
type unit struct {
	id      int
	fn      Func
	inbox   chan envelope
	replies chan<- envelope
}

func newUnit(id int, fn Func, replies chan<- envelope) *unit {
	return &unit{
		id:      id,
		fn:      fn,
		inbox:   make(chan envelope, 1),
		replies: replies,
	}
}

func (u *unit) loop() {
	for env := range u.inbox {
		u.replies <- envelope{seq: env.seq, unit: u.id, msg: u.handle(env)}
	}
}

func (u *unit) handle(env envelope) Message {
	switch env.msg.Type {
	case MessagePing:
		return Message{ID: env.msg.ID, Type: MessagePong}
	case MessageRun:
		data, err := u.run(env.ctx, env.msg.Data)
		if err != nil {
			return Message{ID: env.msg.ID, Type: MessageError, Err: err}
		}
		return Message{ID: env.msg.ID, Type: MessageResult, Data: data}
	default:
		return Message{
			ID:   env.msg.ID,
			Type: MessageError,
			Err:  fmt.Errorf("unknown message type %q", env.msg.Type),
		}
	}
}

func (u *unit) run(ctx context.Context, data any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = jobs.ErrHandler.WithError(fmt.Errorf("panic: %v", r))
		}
	}()
	return u.fn(ctx, data)
}
