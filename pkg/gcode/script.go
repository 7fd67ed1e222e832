package gcode

import (
	"fmt"
	"io"
	"strings"

	gc "github.com/256dpi/gcode"
)

// LoadScript reads a G-code program and returns its commands, one per
// line, normalised to upper-case letters and shortest-form numbers.
// Comments and blank lines are dropped.
func LoadScript(r io.Reader) ([]string, error) {
	file, err := gc.ParseFile(r)
	if err != nil {
		return nil, fmt.Errorf("gcode: parse script: %w", err)
	}

	var commands []string
	for _, line := range file.Lines {
		words := make([]string, 0, len(line.Codes))
		homing := false
		for _, code := range line.Codes {
			// Comments come through as codes without a letter.
			if code.Letter == "" {
				continue
			}
			letter := strings.ToUpper(code.Letter)
			// G28 axis words are flags; any value the parser assigned is noise.
			if homing && (letter == "X" || letter == "Y" || letter == "Z") {
				words = append(words, letter)
				continue
			}
			word := letter + FormatNumber(code.Value)
			if len(words) == 0 && word == CmdHome {
				homing = true
			}
			words = append(words, word)
		}
		if len(words) == 0 {
			continue
		}
		commands = append(commands, strings.Join(words, " "))
	}
	return commands, nil
}
