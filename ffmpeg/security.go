package ffmpeg

import (
	"fmt"
	"strings"

	"signally/fault"

	"github.com/google/shlex"
)

// Options the argument builders own. Operator-supplied extra arguments must not
// override inputs, outputs or the progress channel.
var reservedOptions = map[string]bool{
	"-i":             true,
	"-f":             true,
	"-y":             true,
	"-progress":      true,
	"-stream_loop":   true,
	"-filter_script": true,
}

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// SanitizeAndValidateArgs checks split extra arguments for shell
// metacharacters and for options reserved by the argument builders.
func SanitizeAndValidateArgs(args []string) error {
	for _, arg := range args {
		if reservedOptions[arg] {
			return fmt.Errorf("option %s cannot be overridden", arg)
		}
		// exec never runs a shell, but these have no business in encoder options.
		if strings.ContainsAny(arg, "|&;`$<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// ParseExtraArgs splits and validates an operator-supplied argument string.
// An empty string yields no arguments.
func ParseExtraArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := SplitCommand(s)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidArgument, err, "extra encoder arguments")
	}
	if err := SanitizeAndValidateArgs(args); err != nil {
		return nil, fault.Wrap(fault.InvalidArgument, err, "extra encoder arguments")
	}
	return args, nil
}
