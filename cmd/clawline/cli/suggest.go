// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// maxSuggestionDistance bounds how different a suggestion can be from
// the typed name before it stops being useful.
const maxSuggestionDistance = 3

// suggestCommand returns the subcommand name closest to typed, or ""
// when nothing is close enough.
func suggestCommand(typed string, subcommands []*Command) string {
	best := ""
	bestDistance := maxSuggestionDistance + 1
	for _, sub := range subcommands {
		distance := levenshtein(typed, sub.Name)
		if distance < bestDistance {
			best = sub.Name
			bestDistance = distance
		}
	}
	return best
}

// suggestFlag finds the first unknown flag in args and returns the
// closest registered flag (with leading dashes), or "".
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	typed := ""
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if index := strings.IndexByte(name, '='); index >= 0 {
			name = name[:index]
		}
		if name == "" || flagSet.Lookup(name) != nil {
			continue
		}
		typed = name
		break
	}
	if typed == "" {
		return ""
	}

	best := ""
	bestDistance := maxSuggestionDistance + 1
	flagSet.VisitAll(func(registered *pflag.Flag) {
		distance := levenshtein(typed, registered.Name)
		if distance < bestDistance {
			best = registered.Name
			bestDistance = distance
		}
	})
	if best == "" {
		return ""
	}
	return "--" + best
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming formulation.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	previous := make([]int, len(b)+1)
	current := make([]int, len(b)+1)
	for j := range previous {
		previous[j] = j
	}
	for i := 1; i <= len(a); i++ {
		current[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			current[j] = min(previous[j]+1, min(current[j-1]+1, previous[j-1]+cost))
		}
		previous, current = current, previous
	}
	return previous[len(b)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
