// Package config parses printer.cfg-style INI files into typed settings
// for the host driver.
package config

import "fmt"

// ConfigError locates a bad or missing setting.
type ConfigError struct {
	Section string
	Option  string
	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Option != "":
		return fmt.Sprintf("config: [%s] %s: %s", e.Section, e.Option, e.Message)
	case e.Section != "":
		return fmt.Sprintf("config: [%s]: %s", e.Section, e.Message)
	}
	return "config: " + e.Message
}

func missingOption(section, option string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: "must be specified"}
}

func invalidValue(section, option, value, expected string) *ConfigError {
	return &ConfigError{Section: section, Option: option,
		Message: fmt.Sprintf("%q is not a valid %s", value, expected)}
}

func outOfRange(section, option string, value float64, constraint string) *ConfigError {
	return &ConfigError{Section: section, Option: option,
		Message: fmt.Sprintf("%v %s", value, constraint)}
}
