package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// levelFlag is a log level flag that rejects unknown names
type levelFlag string

func (l *levelFlag) String() string {
	return string(*l)
}

func (l *levelFlag) Set(value string) error {
	value = strings.ToLower(strings.TrimSpace(value))
	if _, err := zerolog.ParseLevel(value); err != nil || value == "" {
		return fmt.Errorf("unknown log level %q", value)
	}
	*l = levelFlag(value)
	return nil
}

func (l *levelFlag) Type() string {
	return "level"
}
