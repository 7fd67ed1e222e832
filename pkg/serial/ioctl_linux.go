//go:build linux

package serial

import "golang.org/x/sys/unix"

// termios2 ioctls, so arbitrary rates can be set with BOTHER.
const (
	ioctlGetTermios = unix.TCGETS2
	ioctlSetTermios = unix.TCSETS2
	ioctlTCFlush    = unix.TCFLSH
)
