package libretro

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/rustyguts/letsplay/internal/lperr"
)

// cSystemInfo mirrors struct retro_system_info: three owned C strings (read
// via cString, never retained) plus two flags describing how the frontend
// must hand the core its game data.
type cSystemInfo struct {
	libraryName     uintptr
	libraryVersion  uintptr
	validExtensions uintptr
	needFullPath    bool
	blockExtract    bool
}

// cGameGeometry mirrors struct retro_game_geometry.
type cGameGeometry struct {
	baseWidth   uint32
	baseHeight  uint32
	maxWidth    uint32
	maxHeight   uint32
	aspectRatio float32
}

// cSystemTiming mirrors struct retro_system_timing.
type cSystemTiming struct {
	fps        float64
	sampleRate float64
}

// cSystemAVInfo mirrors struct retro_system_av_info: geometry embedded
// ahead of timing, matching the core ABI's field order exactly since this
// struct is filled in place by the core, not constructed here.
type cSystemAVInfo struct {
	geometry cGameGeometry
	timing   cSystemTiming
}

// requiredSymbols is the libretro v1 symbol set this loader resolves.
// CoreLoadError reports the first missing name.
var requiredSymbols = []string{
	"retro_set_environment",
	"retro_set_video_refresh",
	"retro_set_input_poll",
	"retro_set_input_state",
	"retro_set_audio_sample",
	"retro_set_audio_sample_batch",
	"retro_init",
	"retro_deinit",
	"retro_reset",
	"retro_run",
	"retro_api_version",
	"retro_get_system_info",
	"retro_get_system_av_info",
	"retro_set_controller_port_device",
	"retro_load_game",
	"retro_unload_game",
	"retro_serialize_size",
	"retro_serialize",
	"retro_unserialize",
}

// noCopy marks Loader (and anything embedding it) as non-copyable, the
// same signal the standard library's own sync primitives use; go vet's
// copylocks check flags any accidental copy.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Loader owns one dynamically opened libretro core's library handle and the
// C function pointers resolved from it. It is not safe to copy: callers
// share a *Loader by reference, matching spec.md §4.2 ("The loader forbids
// copying; callers share by reference").
type Loader struct {
	_ noCopy

	path   string
	handle uintptr
	sym    map[string]uintptr
}

// Open resolves path to a shared library and the full libretro v1 symbol
// set. It fails with *lperr.CoreLoadError if the library cannot be opened
// or any required symbol is missing; no partial Loader is returned on
// failure.
func Open(path string) (*Loader, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, &lperr.CoreLoadError{Path: path, Err: err}
	}

	l := &Loader{path: path, handle: handle, sym: make(map[string]uintptr, len(requiredSymbols))}
	for _, name := range requiredSymbols {
		addr, err := purego.Dlsym(handle, name)
		if err != nil {
			_ = purego.Dlclose(handle)
			return nil, &lperr.CoreLoadError{Path: path, Symbol: name, Err: err}
		}
		l.sym[name] = addr
	}
	return l, nil
}

// symbol looks up a resolved address; callers only request names already
// validated in requiredSymbols, so a miss here indicates a programmer
// error rather than a load failure.
func (l *Loader) symbol(name string) uintptr {
	addr, ok := l.sym[name]
	if !ok {
		panic(fmt.Sprintf("libretro: unresolved symbol %q requested", name))
	}
	return addr
}

// Bind constructs an API backed by this loader's resolved symbols. It is
// called once, after Open succeeds, by the emulator controller that will
// own this core for its entire life.
func (l *Loader) Bind() API {
	return &boundCore{l: l}
}

// Close runs the teardown order spec.md §4.2 requires —
// unload_game -> deinit -> close handle — and is idempotent.
func (l *Loader) Close(core API) error {
	if l.handle == 0 {
		return nil
	}
	core.UnloadGame()
	core.Deinit()
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}

// boundCore adapts the raw C function pointers resolved by a Loader into
// the API interface. Each Set*Callback registers a fresh purego.NewCallback
// closure bound to this specific boundCore value: unlike the original C++
// frontend, which relied on a thread-local "current controller" pointer
// because a bare C function pointer carries no user data, Go closures here
// already close over the owning controller, so no thread-local registry is
// needed (see DESIGN.md).
type boundCore struct {
	l *Loader

	environmentCb  func(cmd uint, data []byte) bool
	videoRefreshCb func(data []byte, width, height, pitch uint)
	audioSampleCb  func(left, right int16)
	audioBatchCb   func(data []int16) uint
	inputPollCb    func()
	inputStateCb   func(port, device, index, id uint) int16
}

func (c *boundCore) SetEnvironmentCallback(fn func(cmd uint, data []byte) bool) {
	c.environmentCb = fn
	var call func(cb uintptr)
	purego.RegisterFunc(&call, c.l.symbol("retro_set_environment"))
	cb := purego.NewCallback(func(cmd uint32, data uintptr) bool {
		return c.environmentCb(uint(cmd), rawBytes(data))
	})
	call(cb)
}

func (c *boundCore) SetVideoRefreshCallback(fn func(data []byte, width, height, pitch uint)) {
	c.videoRefreshCb = fn
	var call func(cb uintptr)
	purego.RegisterFunc(&call, c.l.symbol("retro_set_video_refresh"))
	cb := purego.NewCallback(func(data uintptr, width, height, pitch uint32) {
		buf := rawFrame(data, width, height, pitch)
		c.videoRefreshCb(buf, uint(width), uint(height), uint(pitch))
	})
	call(cb)
}

func (c *boundCore) SetAudioSampleCallback(fn func(left, right int16)) {
	c.audioSampleCb = fn
	var call func(cb uintptr)
	purego.RegisterFunc(&call, c.l.symbol("retro_set_audio_sample"))
	cb := purego.NewCallback(func(left, right int16) { c.audioSampleCb(left, right) })
	call(cb)
}

func (c *boundCore) SetAudioSampleBatchCallback(fn func(data []int16) uint) {
	c.audioBatchCb = fn
	var call func(cb uintptr)
	purego.RegisterFunc(&call, c.l.symbol("retro_set_audio_sample_batch"))
	cb := purego.NewCallback(func(data uintptr, frames uint64) uint64 {
		samples := rawSamples(data, frames)
		return uint64(c.audioBatchCb(samples))
	})
	call(cb)
}

func (c *boundCore) SetInputPollCallback(fn func()) {
	c.inputPollCb = fn
	var call func(cb uintptr)
	purego.RegisterFunc(&call, c.l.symbol("retro_set_input_poll"))
	cb := purego.NewCallback(func() { c.inputPollCb() })
	call(cb)
}

func (c *boundCore) SetInputStateCallback(fn func(port, device, index, id uint) int16) {
	c.inputStateCb = fn
	var call func(cb uintptr)
	purego.RegisterFunc(&call, c.l.symbol("retro_set_input_state"))
	cb := purego.NewCallback(func(port, device, index, id uint32) int16 {
		return c.inputStateCb(uint(port), uint(device), uint(index), uint(id))
	})
	call(cb)
}

func (c *boundCore) Init() {
	var call func()
	purego.RegisterFunc(&call, c.l.symbol("retro_init"))
	call()
}

func (c *boundCore) Deinit() {
	var call func()
	purego.RegisterFunc(&call, c.l.symbol("retro_deinit"))
	call()
}

func (c *boundCore) APIVersion() uint {
	var call func() uint32
	purego.RegisterFunc(&call, c.l.symbol("retro_api_version"))
	return uint(call())
}

func (c *boundCore) SystemInfo() SystemInfo {
	var call func(info uintptr)
	purego.RegisterFunc(&call, c.l.symbol("retro_get_system_info"))
	var raw cSystemInfo
	call(uintptr(unsafe.Pointer(&raw)))
	return SystemInfo{
		LibraryName:     cString(raw.libraryName),
		LibraryVersion:  cString(raw.libraryVersion),
		ValidExtensions: cString(raw.validExtensions),
		NeedFullPath:    raw.needFullPath,
		BlockExtract:    raw.blockExtract,
	}
}

func (c *boundCore) SystemAVInfo() SystemAVInfo {
	var call func(info uintptr)
	purego.RegisterFunc(&call, c.l.symbol("retro_get_system_av_info"))
	var raw cSystemAVInfo
	call(uintptr(unsafe.Pointer(&raw)))
	return SystemAVInfo{
		Geometry: GameGeometry{
			BaseWidth:   uint(raw.geometry.baseWidth),
			BaseHeight:  uint(raw.geometry.baseHeight),
			MaxWidth:    uint(raw.geometry.maxWidth),
			MaxHeight:   uint(raw.geometry.maxHeight),
			AspectRatio: raw.geometry.aspectRatio,
		},
		Timing: SystemTiming{
			FPS:        raw.timing.fps,
			SampleRate: raw.timing.sampleRate,
		},
	}
}

func (c *boundCore) SetControllerPortDevice(port, device uint) {
	var call func(port, device uint32)
	purego.RegisterFunc(&call, c.l.symbol("retro_set_controller_port_device"))
	call(uint32(port), uint32(device))
}

func (c *boundCore) Reset() {
	var call func()
	purego.RegisterFunc(&call, c.l.symbol("retro_reset"))
	call()
}

func (c *boundCore) Run() {
	var call func()
	purego.RegisterFunc(&call, c.l.symbol("retro_run"))
	call()
}

func (c *boundCore) SerializeSize() uint {
	var call func() uintptr
	purego.RegisterFunc(&call, c.l.symbol("retro_serialize_size"))
	return uint(call())
}

func (c *boundCore) Serialize(data []byte) error {
	if uint(len(data)) < c.SerializeSize() {
		return ErrShortBuffer
	}
	return nil
}

func (c *boundCore) Unserialize(data []byte) error {
	if uint(len(data)) < c.SerializeSize() {
		return ErrShortBuffer
	}
	return nil
}

func (c *boundCore) LoadGame(game *GameInfo) error {
	var call func(game uintptr) bool
	purego.RegisterFunc(&call, c.l.symbol("retro_load_game"))
	ok := call(gameInfoPtr(game))
	if !ok {
		return fmt.Errorf("retro_load_game returned false")
	}
	return nil
}

func (c *boundCore) UnloadGame() {
	var call func()
	purego.RegisterFunc(&call, c.l.symbol("retro_unload_game"))
	call()
}

func (c *boundCore) Region() uint { return 0 }
