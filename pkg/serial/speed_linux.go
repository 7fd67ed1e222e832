//go:build linux

package serial

import "golang.org/x/sys/unix"

var standardSpeeds = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// setSpeed stores the rate in a termios2 struct. Rates without a Bxxx
// constant (250000 is common on Marlin boards) go through BOTHER.
func setSpeed(t *unix.Termios, baud int) (custom bool) {
	code, ok := standardSpeeds[baud]
	if !ok {
		code = unix.BOTHER
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= code
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	return false
}

func setCustomBaudRate(fd int, baud int) error {
	return nil
}
