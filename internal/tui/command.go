package tui

import (
	"fmt"
	"strings"
)

// Command is a parsed ':' command line.
type Command struct {
	Name string
	Args string
}

var commandAliases = map[string]string{
	"o":    "open",
	"g":    "grep",
	"a":    "attach",
	"h":    "help",
	"q":    "quit",
	"q!":   "quit",
	"rm":   "delete",
	"r":    "refresh",
	"new":  "open",
	"find": "grep",
}

var commandArgs = map[string]bool{
	"open":    true,
	"grep":    true,
	"attach":  true,
	"unread":  false,
	"delete":  false,
	"refresh": false,
	"help":    false,
	"quit":    false,
}

// ParseCommand parses a command line without the leading ':'. Aliases are
// resolved and a missing required argument is an error.
func ParseCommand(input string) (Command, error) {
	input = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), ":"))
	if input == "" {
		return Command{}, fmt.Errorf("empty command")
	}
	name, args, _ := strings.Cut(input, " ")
	name = strings.ToLower(name)
	if full, ok := commandAliases[name]; ok {
		name = full
	}
	needsArg, ok := commandArgs[name]
	if !ok {
		return Command{}, fmt.Errorf("unknown command %q", name)
	}
	cmd := Command{Name: name, Args: strings.TrimSpace(args)}
	if needsArg && cmd.Args == "" {
		return Command{}, fmt.Errorf("%s needs an argument", name)
	}
	return cmd, nil
}
