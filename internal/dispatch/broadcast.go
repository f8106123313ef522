package dispatch

import (
	"sync"

	"github.com/rustyguts/letsplay/internal/frame"
	"github.com/rustyguts/letsplay/internal/lperr"
	"github.com/rustyguts/letsplay/internal/screen"
	"github.com/rustyguts/letsplay/internal/turn"
	"github.com/rustyguts/letsplay/internal/user"
	"github.com/rustyguts/letsplay/internal/wire"
)

// binaryKind tags the one leading byte every video/audio binary WebSocket
// frame carries, so a connection receiving both still knows which is which
// without paying for the wire chunk codec's text framing. Per spec.md §6,
// the exact byte-format of these payloads beyond "binary/opaque" is a
// broadcaster decision, not a wire-codec concern.
type binaryKind byte

const (
	binaryKindFrame binaryKind = iota
	binaryKindAudio
)

func binaryEnvelope(kind binaryKind, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(kind)
	copy(out[1:], body)
	return out
}

// targetPool reuses handle slices across Broadcast calls, the same
// sync.Pool idiom room.go uses to snapshot targets without holding a lock
// during sends.
var targetPool = sync.Pool{
	New: func() any { return make([]user.Handle, 0, 32) },
}

// BroadcastAll sends payload to every user with a non-empty username, per
// spec.md §4.4's Broadcast semantics.
func (c *Core) BroadcastAll(payload string) {
	targets := targetPool.Get().([]user.Handle)[:0]
	c.usersMu.RLock()
	for h, u := range c.users {
		if u.Username != "" {
			targets = append(targets, h)
		}
	}
	c.usersMu.RUnlock()

	c.sendTo(targets, payload)
	targetPool.Put(targets) //nolint:staticcheck // targets is reused, not retained
}

// BroadcastOne sends payload directly to one handle.
func (c *Core) BroadcastOne(h user.Handle, payload string) {
	if err := c.sender.Send(h, payload); err != nil {
		c.log.Debug("send failed", "handle", h, "err", err)
	}
}

// BroadcastToEmu sends payload to every user currently connected to emuID.
func (c *Core) BroadcastToEmu(emuID, payload string) {
	targets := targetPool.Get().([]user.Handle)[:0]
	c.emusMu.RLock()
	if entry, ok := c.emus[emuID]; ok {
		for h := range entry.connected {
			targets = append(targets, h)
		}
	}
	c.emusMu.RUnlock()

	c.sendTo(targets, payload)
	targetPool.Put(targets) //nolint:staticcheck
}

// BroadcastFrames is the periodic video-diff task's body (spec.md §4.3
// point 3, driven by the schedule.Scheduler's ~syncInterval task): for
// every live emulator it snapshots next-vs-current, broadcasts the diff
// (or a full repaint after a resize), and commits next into current.
func (c *Core) BroadcastFrames() {
	c.emusMu.RLock()
	entries := make(map[string]*emulatorEntry, len(c.emus))
	for id, e := range c.emus {
		entries[id] = e
	}
	c.emusMu.RUnlock()

	for id, e := range entries {
		scr := e.ctrl.Screen()
		diff := scr.Diff()
		if len(diff) == 0 {
			continue
		}
		w, h := scr.Dimensions()
		c.FrameDiff(id, w, h, diff)
		scr.Commit()
	}
}

func (c *Core) sendTo(targets []user.Handle, payload string) {
	for _, h := range targets {
		if err := c.sender.Send(h, payload); err != nil {
			txErr := &lperr.TransportError{UserID: string(h), Err: err}
			c.log.Debug("send failed, closing connection", "handle", h, "err", txErr)
			c.sender.Close(h)
		}
	}
}

func (c *Core) sendToBinary(targets []user.Handle, payload []byte) {
	for _, h := range targets {
		if err := c.sender.SendBinary(h, payload); err != nil {
			txErr := &lperr.TransportError{UserID: string(h), Err: err}
			c.log.Debug("binary send failed, closing connection", "handle", h, "err", txErr)
			c.sender.Close(h)
		}
	}
}

// --- emulator.Notifier implementation ---
//
// These run on the emulator controller's own goroutines (video-refresh
// callback thread, turn scheduler goroutine), not the dispatch worker; they
// only read the locked maps and call Sender, never mutate users/emus, so
// they don't violate the "dispatch worker is unique writer" invariant.

func (c *Core) FrameDiff(emuID string, width, height int, diff []screen.Pixel) {
	if len(diff) == 0 {
		return
	}
	c.emusMu.RLock()
	entry, ok := c.emus[emuID]
	c.emusMu.RUnlock()
	if !ok {
		return
	}

	// Each connected user's WebP-capability flag picks its own encoding,
	// per spec.md §4.3 point 3. The encoded bytes travel as a raw binary
	// WebSocket frame, not through the verb wire codec: a full-screen repaint
	// routinely exceeds wire.MaxChunkLen, which is sized for chat text, and
	// arbitrary pixel bytes are not valid UTF-8 for a text frame.
	c.usersMu.RLock()
	rawPayload := binaryEnvelope(binaryKindFrame, frame.RawDiffEncoder{}.Encode(width, height, diff))
	var webpHandles, rawHandles []user.Handle
	c.emusMu.RLock()
	for h := range entry.connected {
		if u, ok := c.users[h]; ok && u.WebPCapable {
			webpHandles = append(webpHandles, h)
		} else {
			rawHandles = append(rawHandles, h)
		}
	}
	c.emusMu.RUnlock()
	c.usersMu.RUnlock()

	if len(webpHandles) > 0 {
		webpPayload := binaryEnvelope(binaryKindFrame, frame.Choose(true, c.webpEncoder, width, height, diff))
		c.sendToBinary(webpHandles, webpPayload)
	}
	c.sendToBinary(rawHandles, rawPayload)
}

func (c *Core) AudioFrames(emuID string, opusFrames [][]byte) {
	c.emusMu.RLock()
	entry, ok := c.emus[emuID]
	var targets []user.Handle
	if ok {
		for h := range entry.connected {
			targets = append(targets, h)
		}
	}
	c.emusMu.RUnlock()
	if !ok {
		return
	}
	for _, f := range opusFrames {
		c.sendToBinary(targets, binaryEnvelope(binaryKindAudio, f))
	}
}

func (c *Core) TurnGranted(emuID string, m turn.Member) {
	c.usersMu.Lock()
	if u, ok := c.users[user.Handle(m.Key())]; ok {
		u.HasTurn = true
	}
	c.usersMu.Unlock()
	c.BroadcastToEmu(emuID, wire.Encode([]string{"turn", m.Key()}))
}

func (c *Core) TurnRevoked(emuID string, m turn.Member) {
	c.usersMu.Lock()
	if u, ok := c.users[user.Handle(m.Key())]; ok {
		u.HasTurn = false
		u.RequestedTurn = false
	}
	c.usersMu.Unlock()
}

func (c *Core) RuntimeFailed(emuID string, err error) {
	c.log.Error("emulator runtime failed", "emu", emuID, "err", err)
	c.removeEmulator(emuID)
	c.BroadcastAll(wire.Encode([]string{"emu-failed", emuID}))
}
