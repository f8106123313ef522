// Package emulator hosts one libretro core on its own goroutine/OS thread,
// translating its C ABI callbacks into the screen/pad/turn state the rest
// of the server consumes, per spec.md §4.3.
package emulator

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rustyguts/letsplay/internal/audio"
	"github.com/rustyguts/letsplay/internal/lperr"
	"github.com/rustyguts/letsplay/internal/libretro"
	"github.com/rustyguts/letsplay/internal/pad"
	"github.com/rustyguts/letsplay/internal/screen"
	"github.com/rustyguts/letsplay/internal/turn"
)

// Notifier is how a Controller tells the rest of the server about
// asynchronous events, mirroring the "push notifications back via direct
// calls" line in spec.md §2.
type Notifier interface {
	FrameDiff(emuID string, width, height int, diff []screen.Pixel)
	AudioFrames(emuID string, opusFrames [][]byte)
	TurnGranted(emuID string, m turn.Member)
	TurnRevoked(emuID string, m turn.Member)
	RuntimeFailed(emuID string, err error)
}

// Config is the construction-time parameters spec.md §6's coreConfig and
// framerate keys feed in.
type Config struct {
	EmuID             string
	CorePath          string
	RomPath           string
	TurnLength        time.Duration
	OverrideFramerate bool
	Framerate         int
	CoreSettings      map[string]string
}

// Controller is one hosted emulator: core + screen + pad + turn scheduler.
// The core's Run calls, and the callbacks the core makes from inside them,
// happen on one goroutine locked to its OS thread; Init and LoadGame run
// earlier, on the goroutine that constructs the Controller.
type Controller struct {
	id     string
	cfg    Config
	core   libretro.API
	loader *libretro.Loader // nil when constructed directly from a bound API (tests)
	log    *slog.Logger

	format    *libretro.VideoFormat
	screen    *screen.Buffer
	pad       *pad.Pad
	scheduler *turn.Scheduler
	audioEnc  *audio.Encoder
	notify    Notifier

	mu             sync.Mutex
	stopped        bool
	stopCh         chan struct{}
	pendingButtons map[uint]int16
}

// New loads corePath via the retro-core loader, constructs a Controller,
// and returns it without yet starting the run loop (callers call Start).
// On any failure it returns *lperr.EmulatorStartError and no partially
// constructed Controller.
func New(cfg Config, notify Notifier, log *slog.Logger) (*Controller, error) {
	loader, err := libretro.Open(cfg.CorePath)
	if err != nil {
		return nil, &lperr.EmulatorStartError{EmuID: cfg.EmuID, Err: err}
	}
	core := loader.Bind()
	c, err := newController(cfg, core, notify, log)
	if err != nil {
		_ = loader.Close(core)
		return nil, err
	}
	c.loader = loader
	return c, nil
}

// NewWithCore constructs a Controller around an already-bound API,
// bypassing the dynamic loader. Used by tests with a fake core, and would
// also serve a future in-process/statically-linked core.
func NewWithCore(cfg Config, core libretro.API, notify Notifier, log *slog.Logger) (*Controller, error) {
	return newController(cfg, core, notify, log)
}

func newController(cfg Config, core libretro.API, notify Notifier, log *slog.Logger) (*Controller, error) {
	if log == nil {
		log = slog.Default()
	}
	romData, err := os.ReadFile(cfg.RomPath)
	if err != nil {
		return nil, &lperr.EmulatorStartError{EmuID: cfg.EmuID, Err: fmt.Errorf("read rom: %w", err)}
	}

	c := &Controller{
		id:             cfg.EmuID,
		cfg:            cfg,
		core:           core,
		log:            log.With("emu", cfg.EmuID),
		format:         libretro.NewVideoFormat(),
		screen:         screen.New(),
		pad:            pad.New(),
		notify:         notify,
		stopCh:         make(chan struct{}),
		pendingButtons: make(map[uint]int16),
	}
	c.scheduler = turn.New(cfg.TurnLength, c.onTurnGranted, c.onTurnRevoked)

	enc, err := audio.NewEncoder()
	if err != nil {
		c.log.Warn("audio encoder unavailable, core audio will be dropped", "err", err)
	} else {
		c.audioEnc = enc
	}

	core.SetEnvironmentCallback(c.onEnvironment)
	core.SetVideoRefreshCallback(c.onVideoRefresh)
	core.SetInputPollCallback(c.onInputPoll)
	core.SetInputStateCallback(c.onInputState)
	core.SetAudioSampleCallback(c.onAudioSample)
	core.SetAudioSampleBatchCallback(c.onAudioSampleBatch)

	core.Init()

	info := &libretro.GameInfo{Path: cfg.RomPath, Data: romData, Size: uint(len(romData))}
	if err := core.LoadGame(info); err != nil {
		core.Deinit()
		return nil, &lperr.EmulatorStartError{EmuID: cfg.EmuID, Err: err}
	}
	return c, nil
}

// Start begins the turn scheduler on its own goroutine and the core's run
// loop on a second goroutine that locks itself to an OS thread. Start
// returns immediately.
func (c *Controller) Start() {
	go c.scheduler.Run()
	go c.runLoop()
}

func (c *Controller) runLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	fps := float64(60)
	if c.cfg.OverrideFramerate && c.cfg.Framerate > 0 {
		fps = float64(c.cfg.Framerate)
	} else if av := c.core.SystemAVInfo(); av.Timing.FPS > 0 {
		fps = av.Timing.FPS
	}
	period := time.Duration(float64(time.Second) / fps)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.runOneFrame(); err != nil {
				c.log.Error("core run trapped", "err", err)
				if c.notify != nil {
					c.notify.RuntimeFailed(c.id, &lperr.EmulatorRuntimeError{EmuID: c.id, Err: err})
				}
				return
			}
		}
	}
}

// runOneFrame invokes the core's Run once, converting any panic the core
// raises into an EmulatorRuntimeError rather than crashing the process,
// per spec.md §4.3's failure semantics.
func (c *Controller) runOneFrame() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	c.core.Run()
	return nil
}

// Stop tears down the controller: the run loop and turn scheduler are
// both stopped, then the core is unwound in unload_game -> deinit -> close
// order (spec.md §4.2). Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopCh)
	c.scheduler.Stop()
	if c.loader != nil {
		_ = c.loader.Close(c.core)
	} else {
		c.core.UnloadGame()
		c.core.Deinit()
	}
}

// --- proxy operations (spec.md §3's three proxy callables) ---

// AddTurnRequest enqueues m for this emulator's turn.
func (c *Controller) AddTurnRequest(m turn.Member) {
	c.scheduler.AddRequest(m)
}

// UserConnected is called when a user's connectedEmu becomes this emulator.
// No scheduler action is required on connect alone; a turn request is a
// separate command per spec.md §4.4's verb table.
func (c *Controller) UserConnected(m turn.Member) {}

// UserDisconnected removes m from the turn queue, ending its turn early if
// it was holder.
func (c *Controller) UserDisconnected(m turn.Member) {
	c.scheduler.Disconnect(m)
}

// Screen exposes the screen buffer for the periodic video-diff task.
func (c *Controller) Screen() *screen.Buffer { return c.screen }

// Pad exposes the input pad, e.g. for tests asserting button forwarding.
func (c *Controller) Pad() *pad.Pad { return c.pad }

// Holder returns the current turn holder, or nil.
func (c *Controller) Holder() turn.Member { return c.scheduler.Holder() }

func (c *Controller) onTurnGranted(m turn.Member) {
	c.pad.Reset()
	c.clearPending()
	if c.notify != nil {
		c.notify.TurnGranted(c.id, m)
	}
}

func (c *Controller) onTurnRevoked(m turn.Member) {
	c.pad.Reset()
	c.clearPending()
	if c.notify != nil {
		c.notify.TurnRevoked(c.id, m)
	}
}

// clearPending discards any button intents staged but not yet committed by
// onInputPoll, so a departing holder's pending presses never leak into the
// next holder's turn.
func (c *Controller) clearPending() {
	c.mu.Lock()
	for id := range c.pendingButtons {
		delete(c.pendingButtons, id)
	}
	c.mu.Unlock()
}

// --- libretro callbacks ---

// onEnvironment honours EnvSetPixelFormat only; every other command,
// EnvGetVariable included, returns false ("unrecognized"), per spec.md
// §4.3 point 2.
func (c *Controller) onEnvironment(cmd uint, data []byte) bool {
	switch cmd {
	case libretro.EnvSetPixelFormat:
		if len(data) < 1 {
			return false
		}
		return c.format.SetPixelFormat(libretro.PixelFormat(data[0]))
	case libretro.EnvGetVariable:
		// A real retro_variable struct carries {key *char; value *char};
		// neither the loader nor this handler decodes it, so the request is
		// answered as unrecognized. Per-core settings are reachable only
		// through GetCoreSetting, not from the core.
		return false
	default:
		return false
	}
}

// GetCoreSetting serves the per-core opaque config map loaded from
// spec.md §6's coreConfig table, recovered from original_source/'s
// LetsPlayConfig per-core passthrough.
func (c *Controller) GetCoreSetting(key string) (string, bool) {
	v, ok := c.cfg.CoreSettings[key]
	return v, ok
}

func (c *Controller) onVideoRefresh(data []byte, width, height, pitch uint) {
	c.screen.Write(data, width, height, pitch, c.format)
}

// onInputPoll commits the turn holder's pending button intents into the
// live RetroPad, per spec.md §4.3 point 4. It runs on the core's own
// goroutine immediately before on_input_state is polled for this frame, so
// a button change the dispatch worker records mid-frame takes effect only
// at the next poll boundary rather than tearing the frame the core is
// currently reading.
func (c *Controller) onInputPoll() {
	c.mu.Lock()
	pending := c.pendingButtons
	c.pendingButtons = make(map[uint]int16)
	c.mu.Unlock()

	for id, value := range pending {
		c.pad.SetButton(id, value)
	}
}

func (c *Controller) onInputState(port, device, index, id uint) int16 {
	if port != 0 {
		return 0
	}
	return c.pad.Button(id)
}

func (c *Controller) onAudioSample(left, right int16) {
	c.onAudioSampleBatch([]int16{left, right})
}

func (c *Controller) onAudioSampleBatch(data []int16) uint {
	if c.audioEnc == nil || c.notify == nil {
		return uint(len(data) / 2)
	}
	frames := c.audioEnc.Push(data)
	if len(frames) > 0 {
		c.notify.AudioFrames(c.id, frames)
	}
	return uint(len(data) / 2)
}

// ButtonEvent stages a turn holder's button state change, forwarded by the
// dispatch core only when the caller currently holds the turn (spec.md
// §4.4's "button" verb). It does not mutate the live RetroPad directly: the
// pad is read concurrently by the core's own run-loop goroutine through
// on_input_state, so the change is only committed at the next on_input_poll.
func (c *Controller) ButtonEvent(id uint, value int16) {
	c.mu.Lock()
	c.pendingButtons[id] = value
	c.mu.Unlock()
}
