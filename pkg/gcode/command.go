package gcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Command is one parsed G-code line.
type Command struct {
	Name string            // "G1", "M114"
	Args map[string]string // letter -> raw value, "" for bare flags like G28's axes
	Raw  string
}

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// ParseCommand parses a G-code line. Blank and comment-only lines yield a
// nil command and no error.
func ParseCommand(line string) (*Command, error) {
	ln := line
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = ln[:idx]
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return nil, nil
	}

	fields := strings.Fields(ln)
	name := strings.ToUpper(fields[0])
	if len(name) < 2 || !isLetter(name[0]) {
		return nil, fmt.Errorf("gcode: malformed command %q", fields[0])
	}
	if _, err := strconv.ParseFloat(name[1:], 64); err != nil {
		return nil, fmt.Errorf("gcode: malformed command %q", fields[0])
	}

	args := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		if !isLetter(f[0]) {
			return nil, fmt.Errorf("gcode: malformed argument %q in %q", f, line)
		}
		args[strings.ToUpper(f[:1])] = f[1:]
	}
	return &Command{Name: name, Args: args, Raw: line}, nil
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// Has reports whether the letter appears, with or without a value.
func (c *Command) Has(letter string) bool {
	_, ok := c.Args[letter]
	return ok
}

// Float returns the numeric value of a letter argument. ok is false when
// the letter is absent or bare.
func (c *Command) Float(letter string) (v float64, ok bool, err error) {
	raw, present := c.Args[letter]
	if !present || raw == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("gcode: invalid %s value %q in %q", letter, raw, c.Raw)
	}
	return v, true, nil
}

// Axes returns the axis letters named by a G28, in X, Y, Z order. A bare
// G28 names all three.
func (c *Command) Axes() []string {
	var axes []string
	for _, a := range []string{"X", "Y", "Z"} {
		if c.Has(a) {
			axes = append(axes, a)
		}
	}
	if len(axes) == 0 {
		return []string{"X", "Y", "Z"}
	}
	return axes
}
