package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Section provides typed access to one config section and remembers which
// options were read.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// lookup returns the raw value and marks the option as read.
func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()
	v, ok := s.options[key]
	return strings.TrimSpace(v), ok
}

// UnusedOptions returns the options that were never read, sorted.
func (s *Section) UnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	sort.Strings(result)
	return result
}

// Get returns a string option value, or the fallback when absent.
// Without a fallback a missing option is an error.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	if v, ok := s.lookup(option); ok {
		return v, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return "", missingOption(s.name, option)
}

// GetInt returns an integer option value.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, missingOption(s.name, option)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalidValue(s.name, option, v, "integer")
	}
	return i, nil
}

// GetFloat returns a float64 option value.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, missingOption(s.name, option)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, invalidValue(s.name, option, v, "float")
	}
	return f, nil
}

// FloatBounds specifies bounds for GetFloatWithBounds.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
}

// Float returns a pointer for use in FloatBounds.
func Float(v float64) *float64 {
	return &v
}

// GetFloatWithBounds returns a float64 option value with bounds checking.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	switch {
	case bounds.MinVal != nil && v < *bounds.MinVal:
		return 0, outOfRange(s.name, option, v, fmt.Sprintf("is below the minimum %g", *bounds.MinVal))
	case bounds.MaxVal != nil && v > *bounds.MaxVal:
		return 0, outOfRange(s.name, option, v, fmt.Sprintf("is above the maximum %g", *bounds.MaxVal))
	case bounds.Above != nil && v <= *bounds.Above:
		return 0, outOfRange(s.name, option, v, fmt.Sprintf("must be above %g", *bounds.Above))
	}
	return v, nil
}

// GetDuration reads a number of seconds. Negative values are rejected.
func (s *Section) GetDuration(option string, fallback ...time.Duration) (time.Duration, error) {
	if _, ok := s.lookup(option); !ok && len(fallback) > 0 {
		return fallback[0], nil
	}
	secs, err := s.GetFloatWithBounds(option, FloatBounds{MinVal: Float(0)})
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// GetChoice returns a string option that must be one of the valid choices.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", invalidValue(s.name, option, v, "choice, want one of "+strings.Join(choices, ", "))
}
