// Package router dispatches Telegram updates to command, reply-button and
// inline-callback handlers through a middleware chain.
package router

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "coefbot/internal/runtime/supervisor"
	kit "coefbot/internal/transport"
	logx "coefbot/pkg/logx"

	"github.com/google/uuid"
)

const (
	unknownCommandText = "❓ Unknown command. Try /help"
	busyText           = "⏳ Busy, try again in a moment."
	failedText         = "⚠️ Something went wrong, please try again."
)

type Command struct {
	// Name without the leading slash, e.g. "start".
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration
	// Hidden commands work but are not listed in /help or the command menu.
	Hidden bool
	Handle HandlerFunc
}

// TextRoute matches a whole message text, as sent by reply-keyboard buttons.
type TextRoute struct {
	Text   string
	Access Access
	Handle HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline buttons carrying "menu:action[:payload]".
type CallbackRoute struct {
	Menu    string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Options struct {
	// Workers defaults to NumCPU (min 2). Updates from one chat always land
	// on the same worker and are handled in arrival order.
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

type Router struct {
	mu        sync.RWMutex
	commands  map[string]Command
	alias     map[string]string
	texts     map[string]TextRoute
	callbacks map[string]map[string]CallbackRoute

	acl atomic.Pointer[ACL]

	log     logx.Logger
	adapter kit.Adapter
	opts    Options

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(log logx.Logger, adapter kit.Adapter, acl ACL, opts Options) *Router {
	if opts.Workers <= 0 {
		opts.Workers = max(2, runtime.NumCPU())
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	r := &Router{
		commands:  map[string]Command{},
		alias:     map[string]string{},
		texts:     map[string]TextRoute{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		opts:      opts,
	}
	r.SetACL(acl)
	return r
}

// SetACL swaps the allow-list. Safe during hot reload.
func (r *Router) SetACL(acl ACL) {
	if acl.Empty() {
		r.log.Warn("allow-list is empty; every user will be denied")
	}
	r.acl.Store(&acl)
}

func (r *Router) aclSnapshot() ACL { return *r.acl.Load() }

// Supervisor returns the dispatcher's supervisor (nil when not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// SetRegistry replaces all routes. A /help command listing the visible
// commands is always added.
func (r *Router) SetRegistry(cmds []Command, texts []TextRoute, cbs []CallbackRoute) {
	commands := map[string]Command{}
	alias := map[string]string{}
	for _, c := range append(cmds, r.helpCommand()) {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		commands[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				alias[a] = name
			}
		}
	}
	tr := map[string]TextRoute{}
	for _, t := range texts {
		if key := strings.TrimSpace(t.Text); key != "" && t.Handle != nil {
			tr[key] = t
		}
	}
	cb := map[string]map[string]CallbackRoute{}
	for _, c := range cbs {
		m, a := strings.TrimSpace(c.Menu), strings.TrimSpace(c.Action)
		if m == "" || a == "" || c.Handle == nil {
			continue
		}
		if cb[m] == nil {
			cb[m] = map[string]CallbackRoute{}
		}
		cb[m][a] = c
	}

	r.mu.Lock()
	r.commands, r.alias, r.texts, r.callbacks = commands, alias, tr, cb
	r.mu.Unlock()
}

// MenuCommands lists the visible commands for the Telegram command menu.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.commands))
	for _, c := range r.commands {
		if c.Hidden || c.Access == AccessAdmin {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	perShard := max(1, r.opts.QueueSize/r.opts.Workers)
	shards := make([]chan func(), r.opts.Workers)
	for i := range shards {
		q := make(chan func(), perShard)
		shards[i] = q
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			r.workerLoop(c, q)
			return nil
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := r.MenuCommands()
		sup.Go("telegram.menu.update", func(c context.Context) error {
			cctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				r.log.Warn("menu commands update failed", logx.Err(err))
			}
			return nil
		})
	}
	r.log.Info("dispatcher started", logx.Int("workers", len(shards)), logx.Int("queue_per_worker", perShard))

	defer func() {
		// Workers drain what is queued, then exit on close.
		for _, q := range shards {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up, shards)
		}
	}
}

func (r *Router) workerLoop(ctx context.Context, q <-chan func()) {
	for job := range q {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("panic in command job", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
				}
			}()
			job()
		}()
	}
}

func enqueue(shards []chan func(), chatID int64, fn func()) bool {
	if chatID < 0 {
		chatID = -chatID
	}
	select {
	case shards[int(chatID%int64(len(shards)))] <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) route(ctx context.Context, up kit.Update, shards []chan func()) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up, shards)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up, shards)
		}
	}
}

func (r *Router) newRequest(up kit.Update, fromID int64, command string) *Request {
	rid := uuid.NewString()
	chat := kit.ChatTarget{ChatID: up.ChatID()}
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Command: command,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update, shards []chan func()) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)

	r.mu.RLock()
	commands, alias, texts := r.commands, r.alias, r.texts
	r.mu.RUnlock()

	var (
		h       HandlerFunc
		access  Access
		timeout time.Duration
		req     *Request
	)
	switch {
	case strings.HasPrefix(text, "/"):
		fields := strings.Fields(text)
		word := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		if target, ok := alias[word]; ok {
			word = target
		}
		cmd, ok := commands[word]
		if !ok {
			if r.aclSnapshot().Allowed(msg.FromID) {
				_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, unknownCommandText, nil)
			}
			return
		}
		req = r.newRequest(up, msg.FromID, "/"+cmd.Name)
		req.Args = fields[1:]
		h, access, timeout = cmd.Handle, cmd.Access, cmd.Timeout
	default:
		tr, ok := texts[text]
		if !ok {
			return
		}
		req = r.newRequest(up, msg.FromID, "text:"+text)
		h, access = tr.Handle, tr.Access
	}

	r.dispatch(ctx, shards, req, h, access, timeout, func() {
		_, _ = r.adapter.SendText(ctx, req.Chat, busyText, nil)
	})
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update, shards []chan func()) {
	cb := up.Callback
	parts := strings.SplitN(cb.Data, ":", 3)
	var route CallbackRoute
	ok := len(parts) >= 2
	if ok {
		r.mu.RLock()
		route, ok = r.callbacks[parts[0]][parts[1]]
		r.mu.RUnlock()
	}
	if !ok {
		// Stop the client's loading spinner for stale buttons.
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	req := r.newRequest(up, cb.FromID, "cb:"+route.Menu+":"+route.Action)
	req.Payload = payload
	req.MessageID = cb.MessageID
	h := func(c context.Context, rq *Request) error { return route.Handle(c, rq, payload) }

	r.dispatch(ctx, shards, req, h, route.Access, route.Timeout, func() {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, busyText, false)
	})
}

func (r *Router) dispatch(ctx context.Context, shards []chan func(), req *Request, h HandlerFunc, access Access, timeout time.Duration, busy func()) {
	if timeout <= 0 {
		timeout = r.opts.HandlerTimeout
	}
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWAccess(r.aclSnapshot, access),
		MWTimeout(timeout),
	)
	job := func() {
		err := final(ctx, req)
		if !req.IsCallback() {
			if err != nil && !errors.Is(err, ErrAccessDenied) {
				_ = req.ReplyText(ctx, failedText)
			}
			return
		}
		text, alert, set := req.answerState()
		if err != nil && !set {
			text, alert = failedText, false
		}
		_ = r.adapter.AnswerCallback(ctx, req.Update.Callback.ID, text, alert)
	}
	if !enqueue(shards, req.Chat.ChatID, job) {
		busy()
	}
}
