package dispatch

import (
	"regexp"

	"github.com/rustyguts/letsplay/internal/emulator"
	"github.com/rustyguts/letsplay/internal/lperr"
	"github.com/rustyguts/letsplay/internal/user"
	"github.com/rustyguts/letsplay/internal/wire"
)

// dropProtocol types a malformed or semantically invalid client message as
// an *lperr.ProtocolError and logs it at debug level. Per spec.md §7,
// protocol errors are dropped silently as far as the client is concerned —
// this never broadcasts or replies, it only gives the failure a typed,
// loggable shape instead of a bare early return.
func (c *Core) dropProtocol(verb, reason string) {
	c.log.Debug("dropping malformed command", "err", &lperr.ProtocolError{Verb: verb, Reason: reason})
}

// printableASCII matches spec.md §3/§8's "printable-ASCII chars" rule for
// both usernames and chat bodies.
var printableASCII = regexp.MustCompile(`^[\x20-\x7E]*$`)

// escapedLen approximates the "escape expansion regex" spec.md §8
// references for the chat-length cap: control/separator characters the
// wire codec itself would need escaped count double toward the cap. None
// of this server's printable-ASCII-only chat bodies ever need escaping, so
// the expanded length always equals the raw length; the hook exists so a
// future richer charset doesn't silently bypass the cap.
func escapedLen(s string) int {
	return len(s)
}

func (c *Core) handleUsername(cmd Command) {
	if len(cmd.Params) != 1 {
		c.dropProtocol("username", "expected exactly one parameter")
		return
	}
	name := cmd.Params[0]
	if !user.ValidUsername(name, c.cfg.MinUsernameLength, c.cfg.MaxUsernameLength) {
		c.dropProtocol("username", "invalid username")
		return
	}

	c.usersMu.Lock()
	u, ok := c.users[cmd.Handle]
	if !ok {
		c.usersMu.Unlock()
		return
	}
	wasEmpty := u.Username == ""
	oldName := u.Username
	// Reject duplicates (unique-by-string), case-sensitive per spec.md's
	// literal wording ("unique-by-string").
	for _, other := range c.users {
		if other != u && other.Username == name {
			c.usersMu.Unlock()
			c.dropProtocol("username", "name already in use")
			return
		}
	}
	u.Username = name
	c.usersMu.Unlock()

	if wasEmpty {
		c.BroadcastAll(wire.Encode([]string{"join", name}))
		return
	}
	// original_source/src/LetsPlayServer.cpp sends the old username
	// alongside the new one on rename so clients can correlate the change
	// to the previous identity rather than just seeing a new name appear.
	c.BroadcastAll(wire.Encode([]string{"username", oldName, name}))
}

func (c *Core) handleChat(cmd Command) {
	if len(cmd.Params) != 1 {
		c.dropProtocol("chat", "expected exactly one parameter")
		return
	}
	msg := cmd.Params[0]
	if !printableASCII.MatchString(msg) {
		c.dropProtocol("chat", "non-printable-ASCII body")
		return
	}
	if escapedLen(msg) > c.cfg.MaxMessageSize {
		c.dropProtocol("chat", "message exceeds configured size limit")
		return
	}

	c.usersMu.RLock()
	u, ok := c.users[cmd.Handle]
	var username, emuID string
	if ok {
		username, emuID = u.Username, u.ConnectedEmu
	}
	c.usersMu.RUnlock()
	if !ok || username == "" || emuID == "" {
		return
	}

	c.BroadcastToEmu(emuID, wire.Encode([]string{"chat", username, msg}))
}

func (c *Core) handleList(cmd Command) {
	c.usersMu.RLock()
	names := make([]string, 0, len(c.users))
	for _, u := range c.users {
		if u.Username != "" {
			names = append(names, u.Username)
		}
	}
	c.usersMu.RUnlock()

	c.BroadcastOne(cmd.Handle, wire.Encode(append([]string{"list"}, names...)))
}

func (c *Core) handleEmuList(cmd Command) {
	c.emusMu.RLock()
	ids := make([]string, 0, len(c.emus))
	for id := range c.emus {
		ids = append(ids, id)
	}
	c.emusMu.RUnlock()

	c.BroadcastOne(cmd.Handle, wire.Encode(append([]string{"emus"}, ids...)))
}

func (c *Core) handleConnect(cmd Command) {
	if len(cmd.Params) != 1 {
		c.dropProtocol("connect", "expected exactly one parameter")
		return
	}
	emuID := cmd.Params[0]

	c.emusMu.RLock()
	entry, ok := c.emus[emuID]
	c.emusMu.RUnlock()
	if !ok {
		return
	}

	c.usersMu.Lock()
	u, ok := c.users[cmd.Handle]
	if !ok || u.Username == "" {
		c.usersMu.Unlock()
		return
	}
	u.ConnectedEmu = emuID
	c.usersMu.Unlock()

	c.emusMu.Lock()
	entry.connected[cmd.Handle] = u
	c.emusMu.Unlock()

	entry.ctrl.UserConnected(turnMember{cmd.Handle})
}

func (c *Core) handleButton(cmd Command) {
	if len(cmd.Params) != 2 {
		c.dropProtocol("button", "expected exactly two parameters")
		return
	}
	id, ok1 := parseUint(cmd.Params[0])
	value, ok2 := parseInt16(cmd.Params[1])
	if !ok1 || !ok2 {
		c.dropProtocol("button", "non-numeric id or value")
		return
	}

	entry, u := c.lookupConnected(cmd.Handle)
	if entry == nil || u == nil {
		return
	}
	if holder := entry.ctrl.Holder(); holder == nil || holder.Key() != string(cmd.Handle) {
		return // only the current turn holder's buttons are forwarded
	}
	entry.ctrl.ButtonEvent(id, value)
}

func (c *Core) handleTurn(cmd Command) {
	c.usersMu.Lock()
	u, ok := c.users[cmd.Handle]
	if !ok || u.ConnectedEmu == "" || u.RequestedTurn {
		c.usersMu.Unlock()
		return
	}
	u.RequestedTurn = true
	emuID := u.ConnectedEmu
	c.usersMu.Unlock()

	c.emusMu.RLock()
	entry, ok := c.emus[emuID]
	c.emusMu.RUnlock()
	if !ok {
		return
	}
	entry.ctrl.AddTurnRequest(turnMember{cmd.Handle})
}

func (c *Core) handleWebp(cmd Command) {
	c.usersMu.Lock()
	if u, ok := c.users[cmd.Handle]; ok {
		u.WebPCapable = true
	}
	c.usersMu.Unlock()
}

func (c *Core) handleAdd(cmd Command) {
	if len(cmd.Params) != 3 {
		c.dropProtocol("add", "expected exactly three parameters")
		return
	}
	id, corePath, romPath := cmd.Params[0], cmd.Params[1], cmd.Params[2]
	c.recordAdmin(cmd)

	coreSettings := map[string]string{}
	// Config keys settings by the emu id rather than the resolved core
	// library name: several emulators can load the same core under
	// different ids, each wanting its own settings.
	for k, v := range c.cfg.CoreConfig[id] {
		coreSettings[k] = v
	}

	cfg := emulator.Config{
		EmuID:             id,
		CorePath:          corePath,
		RomPath:           romPath,
		TurnLength:        turnLen(c.cfg),
		OverrideFramerate: c.cfg.OverrideFramerate,
		Framerate:         c.cfg.Framerate,
		CoreSettings:      coreSettings,
	}
	ctrl, err := emulator.New(cfg, c, c.log)
	if err != nil {
		c.log.Warn("emulator failed to start", "emu", id, "err", err)
		c.BroadcastAll(wire.Encode([]string{"emu-failed", id}))
		return
	}
	if err := c.registerEmulator(id, ctrl); err != nil {
		ctrl.Stop()
		c.log.Warn("emulator id already registered", "emu", id)
	}
}

func (c *Core) handleRemove(cmd Command) {
	if len(cmd.Params) != 1 {
		c.dropProtocol("remove", "expected exactly one parameter")
		return
	}
	c.recordAdmin(cmd)
	c.removeEmulator(cmd.Params[0])
}

func (c *Core) handleStopEmu(cmd Command) {
	if len(cmd.Params) != 1 {
		c.dropProtocol("stop", "expected exactly one parameter")
		return
	}
	c.recordAdmin(cmd)
	c.removeEmulator(cmd.Params[0])
}

func (c *Core) removeEmulator(id string) {
	c.emusMu.Lock()
	entry, ok := c.emus[id]
	if ok {
		delete(c.emus, id)
	}
	c.emusMu.Unlock()
	if !ok {
		return
	}
	entry.ctrl.Stop()

	c.usersMu.Lock()
	for h := range entry.connected {
		if u, ok := c.users[h]; ok {
			u.ConnectedEmu = ""
			u.HasTurn = false
			u.RequestedTurn = false
		}
	}
	c.usersMu.Unlock()
}

func (c *Core) handleDisconnect(cmd Command) {
	c.usersMu.Lock()
	u, ok := c.users[cmd.Handle]
	var emuID string
	if ok {
		emuID = u.ConnectedEmu
		delete(c.users, cmd.Handle)
	}
	c.usersMu.Unlock()
	if !ok {
		return
	}

	if emuID != "" {
		c.emusMu.Lock()
		entry, ok := c.emus[emuID]
		if ok {
			delete(entry.connected, cmd.Handle)
		}
		c.emusMu.Unlock()
		if ok {
			entry.ctrl.UserDisconnected(turnMember{cmd.Handle})
		}
	}
	if u.Username != "" {
		c.BroadcastAll(wire.Encode([]string{"left", u.Username}))
	}
}

func (c *Core) lookupConnected(h user.Handle) (*emulatorEntry, *user.User) {
	c.usersMu.RLock()
	u, ok := c.users[h]
	c.usersMu.RUnlock()
	if !ok || u.ConnectedEmu == "" {
		return nil, nil
	}
	c.emusMu.RLock()
	entry := c.emus[u.ConnectedEmu]
	c.emusMu.RUnlock()
	return entry, u
}
