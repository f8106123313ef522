package libretro

import "unsafe"

// The helpers below bridge the raw pointers a C callback hands us into Go
// slices backed by that same memory, without copying, for the duration of
// the callback. None of these slices may be retained past the callback
// that produced them; on_video_refresh and on_audio_sample_batch copy what
// they need into controller-owned buffers before returning.

func rawBytes(ptr uintptr) []byte {
	if ptr == 0 {
		return nil
	}
	// Environment data payloads are small, fixed-size C structs; callers
	// that care about a specific command know the struct layout they are
	// decoding and slice accordingly.
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), 64)
}

func rawFrame(ptr uintptr, width, height, pitch uint32) []byte {
	if ptr == 0 {
		return nil
	}
	n := int(pitch) * int(height)
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}

func rawSamples(ptr uintptr, frames uint64) []int16 {
	if ptr == 0 {
		return nil
	}
	n := int(frames) * 2 // stereo interleaved
	return unsafe.Slice((*int16)(unsafe.Pointer(ptr)), n)
}

// cString reads a NUL-terminated C string from ptr. Used to decode the
// const char* fields retro_get_system_info fills in, which stay owned by
// the core and are only valid to read synchronously after the call.
func cString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(ptr + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}

// gameInfoPtr allocates a C-compatible retro_game_info struct
// ({const char *path; const void *data; size_t size; const char *meta})
// from game and returns a pointer to it, keeping the backing byte slices
// alive for the duration of the call by way of Go's own GC (the pointer
// returned here is only used synchronously by retro_load_game).
func gameInfoPtr(game *GameInfo) uintptr {
	if game == nil {
		return 0
	}
	type cGameInfo struct {
		path uintptr
		data uintptr
		size uintptr
		meta uintptr
	}
	info := &cGameInfo{
		size: uintptr(game.Size),
	}
	if game.Path != "" {
		b := append([]byte(game.Path), 0)
		info.path = uintptr(unsafe.Pointer(&b[0]))
	}
	if len(game.Data) > 0 {
		info.data = uintptr(unsafe.Pointer(&game.Data[0]))
	}
	if game.Meta != "" {
		b := append([]byte(game.Meta), 0)
		info.meta = uintptr(unsafe.Pointer(&b[0]))
	}
	return uintptr(unsafe.Pointer(info))
}
