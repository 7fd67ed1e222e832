//go:build darwin

package serial

import "golang.org/x/sys/unix"

// Darwin speed_t values are the rates themselves.
var standardSpeeds = map[int]bool{
	9600: true, 19200: true, 38400: true, 57600: true, 115200: true, 230400: true,
}

// setSpeed stores the rate in the termios struct. Non-standard rates are
// opened at 9600 and switched afterwards with IOSSIOSPEED.
func setSpeed(t *unix.Termios, baud int) (custom bool) {
	if !standardSpeeds[baud] {
		t.Ispeed, t.Ospeed = unix.B9600, unix.B9600
		return true
	}
	t.Ispeed = uint64(baud)
	t.Ospeed = uint64(baud)
	return false
}

func setCustomBaudRate(fd int, baud int) error {
	// IOSSIOSPEED, _IOW('T', 2, speed_t)
	const iossiospeed = 0x80045402
	return unix.IoctlSetPointerInt(fd, iossiospeed, baud)
}
