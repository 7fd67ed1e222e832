// Package gcode holds the Marlin command vocabulary used by the host
// driver: command builders, a line parser, the M114 position report parser
// and G-code script loading.
package gcode

import (
	"strconv"
	"strings"
)

const (
	// AckToken is the line the firmware sends once a command is accepted.
	AckToken = "ok"

	// ReportPrefix starts every M114 position report.
	ReportPrefix = "X:"

	CmdAbsolute       = "G90"
	CmdRelative       = "G91"
	CmdHome           = "G28"
	CmdRapidMove      = "G0"
	CmdLinearMove     = "G1"
	CmdReportPosition = "M114"
	CmdEmergencyStop  = "M112"
)

// FormatNumber renders v with the shortest decimal text that parses back
// to the same value: 10 -> "10", 0.1 -> "0.1", -2.5 -> "-2.5".
func FormatNumber(v float64) string {
	if v == 0 {
		// Avoid "-0".
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Home builds "G28" followed by the given axis letters.
func Home(axes ...string) string {
	if len(axes) == 0 {
		return CmdHome
	}
	return CmdHome + " " + strings.Join(axes, " ")
}

// Move builds a three-axis move. rapid selects G0, otherwise G1. All three
// coordinates are always emitted, including zeros.
func Move(rapid bool, x, y, z float64) string {
	code := CmdLinearMove
	if rapid {
		code = CmdRapidMove
	}
	var sb strings.Builder
	sb.WriteString(code)
	sb.WriteString(" X")
	sb.WriteString(FormatNumber(x))
	sb.WriteString(" Y")
	sb.WriteString(FormatNumber(y))
	sb.WriteString(" Z")
	sb.WriteString(FormatNumber(z))
	return sb.String()
}

// SetFeedRate builds "G0 F<mm/min>" from a speed in mm/s.
func SetFeedRate(mmPerSec float64) string {
	return CmdRapidMove + " F" + FormatNumber(mmPerSec*60)
}
