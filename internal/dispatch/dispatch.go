// Package dispatch is the server dispatch core spec.md §4.4 describes: a
// single-writer command queue serializing every client-originated mutation
// against the shared user and emulator registries. I/O-thread handlers only
// parse and enqueue; all mutation happens on the one dispatch worker
// goroutine this package owns.
package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rustyguts/letsplay/internal/audit"
	"github.com/rustyguts/letsplay/internal/config"
	"github.com/rustyguts/letsplay/internal/emulator"
	"github.com/rustyguts/letsplay/internal/frame"
	"github.com/rustyguts/letsplay/internal/lperr"
	"github.com/rustyguts/letsplay/internal/turn"
	"github.com/rustyguts/letsplay/internal/user"
	"github.com/rustyguts/letsplay/internal/wire"
)

// Sender abstracts the WebSocket write path so this package never imports
// a transport library directly; the transport package implements it.
type Sender interface {
	Send(h user.Handle, payload string) error
	SendBinary(h user.Handle, payload []byte) error
	Close(h user.Handle)
}

// Command is the tagged record spec.md §3 describes: it lives only while
// in transit through the dispatch queue.
type Command struct {
	Type   string
	Params []string
	Handle user.Handle
}

// shutdownCmd is the sentinel spec.md §4.4 calls for ("terminates when a
// sentinel Shutdown command is observed").
const shutdownCmd = "\x00shutdown"

// emulatorEntry pairs a running controller with the metadata needed to
// report it and the set of connected user handles, kept here (not inside
// emulator.Controller) because connectedness is dispatch-owned state.
type emulatorEntry struct {
	ctrl      *emulator.Controller
	connected map[user.Handle]*user.User
}

// Core owns the three locked maps and the queue. Construct with New, wire
// a Sender, then call Run in its own goroutine.
type Core struct {
	cfg         config.Config
	sender      Sender
	audit       *audit.Store
	webpEncoder frame.WebPEncoder
	log         *slog.Logger

	usersMu sync.RWMutex
	users   map[user.Handle]*user.User

	emusMu sync.RWMutex
	emus   map[string]*emulatorEntry

	queue chan Command
	done  chan struct{}
}

// New constructs a dispatch Core. audit may be nil (admin actions simply
// go unrecorded).
func New(cfg config.Config, sender Sender, auditStore *audit.Store, log *slog.Logger) *Core {
	if log == nil {
		log = slog.Default()
	}
	return &Core{
		cfg:    cfg,
		sender: sender,
		audit:  auditStore,
		log:    log,
		users:  make(map[user.Handle]*user.User),
		emus:   make(map[string]*emulatorEntry),
		queue:  make(chan Command, 256),
		done:   make(chan struct{}),
	}
}

// SetWebPEncoder installs the external frame-encoding hook WebP-capable
// users receive; see internal/frame for why this is a seam rather than a
// byte-exact implementation.
func (c *Core) SetWebPEncoder(enc frame.WebPEncoder) {
	c.webpEncoder = enc
}

// OnConnect registers a brand-new, empty-username user record before any
// command referencing this handle can be processed, per spec.md §3's
// lifecycle requirement. I/O-thread only; does no locking beyond the
// users map's own lock, and performs no broadcast.
func (c *Core) OnConnect(h user.Handle) {
	c.usersMu.Lock()
	c.users[h] = user.New(h)
	c.usersMu.Unlock()
}

// OnMessage parses a raw wire frame into a Command and enqueues it. I/O
// thread only; does no validation of domain state, per spec.md §4.4.
func (c *Core) OnMessage(h user.Handle, frame string) {
	chunks := wire.Decode(frame)
	if len(chunks) == 0 {
		return
	}
	c.Enqueue(Command{Type: chunks[0], Params: chunks[1:], Handle: h})
}

// OnDisconnect enqueues the teardown for a closed connection.
func (c *Core) OnDisconnect(h user.Handle) {
	c.Enqueue(Command{Type: "\x00disconnect", Handle: h})
}

// Enqueue pushes a command onto the dispatch queue. Safe to call from any
// goroutine (the WebSocket layer's per-connection read loops).
func (c *Core) Enqueue(cmd Command) {
	select {
	case c.queue <- cmd:
	case <-c.done:
	}
}

// Shutdown enqueues the sentinel that ends Run's loop, per spec.md §4.4.
// Idempotent: a second call is a harmless duplicate enqueue once Run has
// already exited, because Enqueue's second case fires.
func (c *Core) Shutdown() {
	c.Enqueue(Command{Type: shutdownCmd})
}

// Run is the single dispatch worker: it pops commands and handles each by
// type, with all shared-state mutation happening here and nowhere else.
// Run blocks until Shutdown is observed.
func (c *Core) Run() {
	for cmd := range c.queue {
		if cmd.Type == shutdownCmd {
			close(c.done)
			c.teardownAll()
			return
		}
		c.dispatch(cmd)
	}
}

// dispatch never panics out to the caller: per spec.md §7, "the dispatch
// worker never raises; it swallows per-command failures and logs."
func (c *Core) dispatch(cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("dispatch worker recovered from panic", "verb", cmd.Type, "panic", r)
		}
	}()

	switch cmd.Type {
	case "username":
		c.handleUsername(cmd)
	case "chat":
		c.handleChat(cmd)
	case "list":
		c.handleList(cmd)
	case "emus":
		c.handleEmuList(cmd)
	case "connect":
		c.handleConnect(cmd)
	case "button":
		c.handleButton(cmd)
	case "turn":
		c.handleTurn(cmd)
	case "webp":
		c.handleWebp(cmd)
	case "add":
		c.handleAdd(cmd)
	case "remove":
		c.handleRemove(cmd)
	case "stop":
		c.handleStopEmu(cmd)
	case "shutdown":
		c.recordAdmin(cmd)
		c.Shutdown()
	case "\x00disconnect":
		c.handleDisconnect(cmd)
	default:
		// "all other inputs are discarded" per spec.md §4.4.
	}
}

func (c *Core) recordAdmin(cmd Command) {
	if c.audit == nil {
		return
	}
	name := ""
	c.usersMu.RLock()
	if u, ok := c.users[cmd.Handle]; ok {
		name = u.Username
	}
	c.usersMu.RUnlock()
	if err := c.audit.Record(name, cmd.Type, cmd.Params); err != nil {
		c.log.Warn("audit record failed", "err", err)
	}
}

func (c *Core) teardownAll() {
	c.emusMu.Lock()
	for id, e := range c.emus {
		e.ctrl.Stop()
		delete(c.emus, id)
	}
	c.emusMu.Unlock()

	c.usersMu.Lock()
	for h := range c.users {
		c.sender.Close(h)
		delete(c.users, h)
	}
	c.usersMu.Unlock()
}

// turnMember adapts a *user.User to turn.Member by its handle.
type turnMember struct {
	h user.Handle
}

func (m turnMember) Key() string { return string(m.h) }

var _ turn.Member = turnMember{}

// HeartbeatSweep is called by the periodic scheduler's disconnect-sweep
// task: any user whose last pong exceeds timeout is force-disconnected,
// recovering the heartbeat behavior from original_source/LetsPlayUser.cpp
// (see SPEC_FULL.md §10).
func (c *Core) HeartbeatSweep(timeout time.Duration) {
	now := time.Now()
	var stale []user.Handle
	c.usersMu.RLock()
	for h, u := range c.users {
		if now.Sub(u.LastPong) > timeout {
			stale = append(stale, h)
		}
	}
	c.usersMu.RUnlock()

	for _, h := range stale {
		c.log.Info("heartbeat timeout, disconnecting", "handle", h)
		c.sender.Close(h)
		c.Enqueue(Command{Type: "\x00disconnect", Handle: h})
	}
}

// Pong records a liveness pong for h, called by the transport layer on
// every received pong frame.
func (c *Core) Pong(h user.Handle) {
	c.usersMu.Lock()
	if u, ok := c.users[h]; ok {
		u.LastPong = time.Now()
	}
	c.usersMu.Unlock()
}

// registerEmulator records an already constructed controller under id and
// starts it. If id is already registered it returns an
// *lperr.EmulatorStartError and leaves ctrl unstarted.
func (c *Core) registerEmulator(id string, ctrl *emulator.Controller) error {
	c.emusMu.Lock()
	defer c.emusMu.Unlock()
	if _, exists := c.emus[id]; exists {
		return &lperr.EmulatorStartError{EmuID: id, Err: errAlreadyExists}
	}
	c.emus[id] = &emulatorEntry{ctrl: ctrl, connected: make(map[user.Handle]*user.User)}
	ctrl.Start()
	return nil
}

var errAlreadyExists = errAlready{}

type errAlready struct{}

func (errAlready) Error() string { return "emulator id already registered" }
