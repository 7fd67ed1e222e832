// Printer host driver types
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package printer

import (
	"fmt"
	"math"

	"github.com/tothambrus11/3d-printer-controller/pkg/gcode"
)

// Vector3D is a position or displacement in millimetres.
type Vector3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3D) Add(o Vector3D) Vector3D {
	return Vector3D{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector3D) Sub(o Vector3D) Vector3D {
	return Vector3D{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Length returns the Euclidean norm.
func (v Vector3D) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func (v Vector3D) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

// Get returns the component for axis.
func (v Vector3D) Get(axis Axis) float64 {
	switch axis {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

func fromPoint(p gcode.Point) Vector3D {
	return Vector3D{p.X, p.Y, p.Z}
}

// Envelope holds the maximum coordinate of each axis. Every axis ranges
// from 0 to its maximum inclusive.
type Envelope Vector3D

// Contains reports whether coord lies within the range of axis.
func (e Envelope) Contains(axis Axis, coord float64) bool {
	return coord >= 0 && coord <= Vector3D(e).Get(axis)
}

// Axis names one of the three linear axes by its G-code letter.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
)

// Axes lists the axes in wire order.
var Axes = []Axis{AxisX, AxisY, AxisZ}

// ParseAxis accepts "x", "Y" and so on.
func ParseAxis(s string) (Axis, bool) {
	switch s {
	case "X", "x":
		return AxisX, true
	case "Y", "y":
		return AxisY, true
	case "Z", "z":
		return AxisZ, true
	}
	return "", false
}

// CoordinateMode is the firmware's positioning mode.
type CoordinateMode int

const (
	// ModeUnknown is the state before Init asserts a mode.
	ModeUnknown CoordinateMode = iota
	Absolute
	Relative
)

func (m CoordinateMode) String() string {
	switch m {
	case Absolute:
		return "absolute"
	case Relative:
		return "relative"
	default:
		return "unknown"
	}
}

func (m CoordinateMode) command() (string, bool) {
	switch m {
	case Absolute:
		return gcode.CmdAbsolute, true
	case Relative:
		return gcode.CmdRelative, true
	}
	return "", false
}

// PositionSnapshot is one M114 reading.
type PositionSnapshot struct {
	Current Vector3D `json:"current"`
	Target  Vector3D `json:"target"`
}

// Settled reports whether the toolhead has reached its target on all axes.
func (s PositionSnapshot) Settled() bool {
	return s.Current == s.Target
}

// ConnectionState tracks the link lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Ready
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

// Target is an absolute move destination. A nil component keeps the
// cached coordinate of that axis, so an explicit 0 is a real target.
type Target struct {
	X, Y, Z *float64
}

// Coord returns a pointer to v for building a Target.
func Coord(v float64) *float64 {
	return &v
}

// resolve fills the unset components from base.
func (t Target) resolve(base Vector3D) Vector3D {
	if t.X != nil {
		base.X = *t.X
	}
	if t.Y != nil {
		base.Y = *t.Y
	}
	if t.Z != nil {
		base.Z = *t.Z
	}
	return base
}
