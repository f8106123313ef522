// Package libretro describes the libretro v1 C ABI from the Go side: the
// callback shapes a core expects to be wired with, and the handful of
// environment commands this server honours.
package libretro

import "errors"

const (
	APIVersion   = 1
	DeviceJoypad = 1
)

var (
	ErrShortBuffer = errors.New("short buffer")
	ErrUnknown     = errors.New("unknown")
)

// Environment commands. Only the ones this server understands are listed;
// on_environment answers every other command with "unrecognized" (returns
// false), per spec.md §4.3 point 2.
const (
	EnvSetPixelFormat  uint = 10
	EnvGetVariable     uint = 15
	EnvSetVariables    uint = 16
	EnvGetVariableUpd  uint = 17
	EnvGetSystemDir    uint = 9
	EnvGetSaveDir      uint = 31
	EnvSetGeometry     uint = 37
)

// PixelFormat mirrors the three formats a core may request via
// EnvSetPixelFormat.
type PixelFormat uint

const (
	PixelFormat0RGB1555 PixelFormat = 0
	PixelFormatXRGB8888 PixelFormat = 1
	PixelFormatRGB565   PixelFormat = 2
)

// API is the set of calls a loaded core exposes and the callbacks it
// expects the frontend to install before Init. Shape adapted from the
// libretro.h-derived interface used across the retro-core frontends in the
// wider pack; this server's loader (internal/libretro.Loader) produces one
// API value per dynamically opened core.
type API interface {
	SetEnvironmentCallback(func(cmd uint, data []byte) bool)
	SetVideoRefreshCallback(func(data []byte, width, height, pitch uint))
	SetAudioSampleCallback(func(left, right int16))
	SetAudioSampleBatchCallback(func(data []int16) uint)
	SetInputPollCallback(func())
	SetInputStateCallback(func(port, device, index, id uint) int16)

	Init()
	Deinit()

	APIVersion() uint
	SystemInfo() SystemInfo
	SystemAVInfo() SystemAVInfo

	SetControllerPortDevice(port, device uint)
	Reset()
	Run()

	SerializeSize() uint
	Serialize(data []byte) error
	Unserialize(data []byte) error

	LoadGame(*GameInfo) error
	UnloadGame()

	Region() uint
}

type SystemInfo struct {
	LibraryName     string
	LibraryVersion  string
	ValidExtensions string
	NeedFullPath    bool
	BlockExtract    bool
}

type GameInfo struct {
	Path string
	Data []byte
	Size uint
	Meta string
}

type SystemAVInfo struct {
	Geometry GameGeometry
	Timing   SystemTiming
}

type GameGeometry struct {
	BaseWidth   uint
	BaseHeight  uint
	MaxWidth    uint
	MaxHeight   uint
	AspectRatio float32
}

type SystemTiming struct {
	FPS        float64
	SampleRate float64
}
