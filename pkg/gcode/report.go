package gcode

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tothambrus11/3d-printer-controller/pkg/errors"
)

// Point is a coordinate triple in millimetres.
type Point struct {
	X, Y, Z float64
}

// Report is a decoded M114 line. Marlin prints the planner target first
// and the stepper position (after "Count") second.
type Report struct {
	Target  Point
	Current Point
}

// Settled reports whether the steppers reached the target on every axis.
func (r Report) Settled() bool {
	return r.Current == r.Target
}

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reAxis       = map[string]*regexp.Regexp{
		"X": regexp.MustCompile(`X:(-?[0-9.]+)`),
		"Y": regexp.MustCompile(`Y:(-?[0-9.]+)`),
		"Z": regexp.MustCompile(`Z:(-?[0-9.]+)`),
	}
)

// ParsePositionReport decodes an M114 reply such as
//
//	X:10.00 Y:0.00 Z:5.00 E:0.00 Count X:8.00 Y:0.00 Z:5.00
//
// Whitespace is ignored. Each axis needs at least two values; extras are
// ignored.
func ParsePositionReport(line string) (Report, error) {
	compact := reWhitespace.ReplaceAllString(line, "")

	var target, current [3]float64
	for i, axis := range []string{"X", "Y", "Z"} {
		matches := reAxis[axis].FindAllStringSubmatch(compact, 2)
		if len(matches) < 2 {
			return Report{}, errors.ProtocolError("malformed telemetry line: missing "+axis+" values", line)
		}
		t, err := strconv.ParseFloat(matches[0][1], 64)
		if err != nil {
			return Report{}, errors.ProtocolError("malformed telemetry line: bad "+axis+" value", line)
		}
		c, err := strconv.ParseFloat(matches[1][1], 64)
		if err != nil {
			return Report{}, errors.ProtocolError("malformed telemetry line: bad "+axis+" value", line)
		}
		target[i], current[i] = t, c
	}

	return Report{
		Target:  Point{X: target[0], Y: target[1], Z: target[2]},
		Current: Point{X: current[0], Y: current[1], Z: current[2]},
	}, nil
}

// IsReport reports whether a firmware line is an M114 reply.
func IsReport(line string) bool {
	return strings.HasPrefix(line, ReportPrefix)
}
