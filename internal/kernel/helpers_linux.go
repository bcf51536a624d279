//go:build linux

package kernel

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// netlinkIsExists reports whether err indicates the object being added
// (address, route) already exists, which the adapter treats as
// success rather than failure since applies must be idempotent.
func netlinkIsExists(err error) bool {
	return errors.Is(err, unix.EEXIST)
}
