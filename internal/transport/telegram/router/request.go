package router

import (
	"context"
	"sync"

	kit "coefbot/internal/transport"
	logx "coefbot/pkg/logx"
	"coefbot/pkg/tgui"
)

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Payload is the callback payload ("menu:action:<payload>").
	Payload string
	// MessageID is the message carrying the pressed inline button.
	MessageID int
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger

	mu       sync.Mutex
	answer   string
	alert    bool
	answered bool
}

func (r *Request) IsCallback() bool { return r.Update.Kind == kit.UpdateCallback }

// Reply sends msg to the request's chat.
func (r *Request) Reply(ctx context.Context, msg tgui.Message) (kit.MessageRef, error) {
	return msg.Send(ctx, r.Adapter, r.Chat)
}

// ReplyText sends plain text to the request's chat.
func (r *Request) ReplyText(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, nil)
	return err
}

// Answer sets the text shown when the callback is acknowledged. Alerts are
// shown as a modal. The last call wins; the router answers exactly once.
func (r *Request) Answer(text string, alert bool) {
	r.mu.Lock()
	r.answer, r.alert, r.answered = text, alert, true
	r.mu.Unlock()
}

func (r *Request) answerState() (string, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answer, r.alert, r.answered
}
