package control

import (
	"errors"
	"fmt"
)

const (
	CommandStart  Command = "start"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandToggle Command = "toggle"
	CommandReset  Command = "reset"
	CommandRFOn   Command = "rf-on"
	CommandRFOff  Command = "rf-off"
)

// ErrUnknownCommand is returned for a command without a handler.
var ErrUnknownCommand = errors.New("unknown command")

// Command is an operator command. CommandToggle is the single
// start/pause/continue button: it starts an idle or finished run, pauses a
// running one and resumes a paused one.
type Command string

// Commands lists every command accepted by the Controller.
func Commands() []Command {
	return []Command{
		CommandStart,
		CommandPause,
		CommandResume,
		CommandToggle,
		CommandReset,
		CommandRFOn,
		CommandRFOff,
	}
}

// ParseCommand validates s as a Command.
func ParseCommand(s string) (Command, error) {
	for _, c := range Commands() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownCommand, s)
}

func (c Command) String() string {
	return string(c)
}
