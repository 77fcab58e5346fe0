package shell

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// ShellCompleter provides context-aware autocomplete for shell commands
type ShellCompleter struct {
	sc *ShellController
}

func NewShellCompleter(sc *ShellController) *ShellCompleter {
	return &ShellCompleter{sc: sc}
}

// CommandMetadata holds autocomplete information for a command
type CommandMetadata struct {
	Options []string // Available options for this command (e.g., "-seed")
	Args    []string // Possible argument values (for non-option arguments)
}

// commandMetadata maps command names to their options and arguments
var commandMetadata = map[string]CommandMetadata{
	"load": {
		Options: []string{"-encoding"},
	},
	"gen": {
		Options: []string{"-seed", "-categories"},
	},
	"fit": {
		Args: []string{"stop", "show"},
	},
	"set": {
		Args: optionKeys,
	},
	"export": {
		Args: []string{"csv", "json"},
	},
	"log": {
		Args: []string{"off"},
	},
}

// Common command names for command completion
var commandNames = []string{
	"help", "load", "loaddb", "unload", "gen", "fit", "alphas", "shrink",
	"score", "set", "export", "log", "script", "show", "exit", "bye",
}

// Do implements the readline.AutoComplete interface
// It provides context-aware autocomplete based on what's been typed
func (c *ShellCompleter) Do(line []rune, pos int) ([][]rune, int) {
	// Get the text up to the cursor position
	text := string(line[:pos])

	// Parse the line using shellquote to handle quoted strings properly
	fields, err := shellquote.Split(text)
	if err != nil {
		// If we can't parse, fall back to simple space splitting
		fields = strings.Fields(text)
	}

	// Check if we're in the middle of typing a word or just after a space
	endsWithSpace := len(text) > 0 && text[len(text)-1] == ' '

	var prefix string
	var completions []string

	if len(fields) == 0 || (len(fields) == 1 && !endsWithSpace) {
		// Completing a command name
		if len(fields) == 1 {
			prefix = fields[0]
		}
		completions = commandNames
	} else {
		// We have a command, now complete its arguments/options
		cmdName := fields[0]

		if !endsWithSpace && len(fields) > 0 {
			prefix = fields[len(fields)-1]
		}

		if metadata, exists := commandMetadata[cmdName]; exists {
			// If we're typing something that starts with -, show options
			if strings.HasPrefix(prefix, "-") {
				completions = metadata.Options
			} else {
				// Show args if available, otherwise show options
				if len(metadata.Args) > 0 {
					completions = metadata.Args
				} else {
					completions = metadata.Options
				}
			}
		}

		// Entity names for the shrink command
		if cmdName == "shrink" && c.sc.matrix != nil {
			completions = append(completions, c.sc.matrix.Entities()...)
		}
	}

	// Filter completions based on prefix
	var matches [][]rune
	for _, completion := range completions {
		if strings.HasPrefix(completion, prefix) {
			// Return only the part that needs to be added
			suffix := completion[len(prefix):]
			matches = append(matches, []rune(suffix))
		}
	}

	return matches, len(prefix)
}
