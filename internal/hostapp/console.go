package hostapp

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/al-bashkir/session-rendezvous/internal/logsanitize"
)

// EventKind tags a host-application side effect.
type EventKind int

const (
	EventOpenLevel EventKind = iota + 1
	EventTravel
)

func (k EventKind) String() string {
	switch k {
	case EventOpenLevel:
		return "open_level"
	case EventTravel:
		return "travel"
	default:
		return "unknown"
	}
}

// Event is one OpenLevel or ClientTravel call.
type Event struct {
	Kind    EventKind
	Level   string
	Options string
	Address string
}

const eventBuffer = 16

// Console stands in for a game client's level loader and traveler.
// Every side effect is logged and published on Events. It never blocks the
// calling goroutine: events that do not fit the buffer are dropped.
type Console struct {
	out    io.Writer
	logger *slog.Logger
	events chan Event
	wake   chan struct{}

	mu      sync.Mutex
	history []Event
}

// NewConsole creates a Console writing status lines to out (nil discards).
func NewConsole(out io.Writer, logger *slog.Logger) *Console {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		out:    out,
		logger: logger,
		events: make(chan Event, eventBuffer),
		wake:   make(chan struct{}, 1),
	}
}

// OpenLevel implements rendezvous.LevelLoader.
func (c *Console) OpenLevel(level, options string) {
	c.logger.Info("open level", "level", logsanitize.Sanitize(level), "options", logsanitize.Sanitize(options))
	c.publish(Event{Kind: EventOpenLevel, Level: level, Options: options})
}

// ClientTravel implements rendezvous.Traveler.
func (c *Console) ClientTravel(address string) {
	c.logger.Info("client travel", "address", logsanitize.Sanitize(address))
	c.publish(Event{Kind: EventTravel, Address: address})
}

// Notify prints a status message. It is the controller's Status hook.
func (c *Console) Notify(msg string) {
	_, _ = fmt.Fprintln(c.out, logsanitize.Sanitize(msg))
	c.poke()
}

// Events delivers side effects in call order.
func (c *Console) Events() <-chan Event { return c.events }

// History returns every event seen so far, including dropped ones.
func (c *Console) History() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.history...)
}

// changed fires after any notification or event.
func (c *Console) changed() <-chan struct{} { return c.wake }

func (c *Console) publish(ev Event) {
	c.mu.Lock()
	c.history = append(c.history, ev)
	c.mu.Unlock()

	select {
	case c.events <- ev:
	default:
		c.logger.Warn("console event dropped", "kind", ev.Kind.String())
	}
	c.poke()
}

func (c *Console) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
