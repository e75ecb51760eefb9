package client

import (
	"context"
	"sync"

	"github.com/Guliveer/twitchify-go/internal/logger"
)

// Handler receives the arguments an event was dispatched with:
//
//	code           user code (string)
//	auth           access token, refresh token (string, string)
//	refresh_token  access token, refresh token (string, string)
//	ready          nothing
//	connect        EventSub session id (string)
//	disconnect     nothing
//	chat_message   *chat.Message
//	<subscription> *eventsub.Notification
type Handler func(ctx context.Context, args ...any)

// Dispatcher routes events to registered handlers. Every handler runs in its
// own goroutine so Dispatch never blocks the caller.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	hooks    map[string][]func(args ...any)
	ctx      context.Context
	running  sync.WaitGroup
	log      *logger.Logger
}

func newDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		hooks:    make(map[string][]func(args ...any)),
		ctx:      context.Background(),
		log:      log,
	}
}

// On registers h for event. Handlers registered for the same event run
// concurrently.
func (d *Dispatcher) On(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], h)
}

// hook registers internal bookkeeping that runs inline, before handlers.
func (d *Dispatcher) hook(event string, fn func(args ...any)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks[event] = append(d.hooks[event], fn)
}

// Dispatch runs the hooks for event and schedules its handlers.
func (d *Dispatcher) Dispatch(event string, args ...any) {
	d.mu.RLock()
	hooks := d.hooks[event]
	handlers := d.handlers[event]
	ctx := d.ctx
	d.mu.RUnlock()

	for _, fn := range hooks {
		fn(args...)
	}

	for _, h := range handlers {
		d.running.Add(1)
		go func(h Handler) {
			defer d.running.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("Event handler panicked", "event", event, "panic", r)
				}
			}()
			h(ctx, args...)
		}(h)
	}
}

func (d *Dispatcher) setContext(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctx = ctx
}

// wait blocks until every scheduled handler has returned.
func (d *Dispatcher) wait() {
	d.running.Wait()
}
