package dispatch

import (
	"strconv"
	"time"

	"github.com/rustyguts/letsplay/internal/config"
)

func turnLen(cfg config.Config) time.Duration {
	return time.Duration(cfg.TurnLength)
}

func parseUint(s string) (uint, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

func parseInt16(s string) (int16, bool) {
	n, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return 0, false
	}
	return int16(n), true
}
