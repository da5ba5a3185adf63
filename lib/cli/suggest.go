// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// maxSuggestionDistance is the largest edit distance still considered
// a plausible typo.
const maxSuggestionDistance = 3

// suggestCommand returns the subcommand name closest to the input, or
// empty if nothing is close enough to be a plausible typo.
func suggestCommand(input string, subcommands []*Command) string {
	best := ""
	bestDistance := maxSuggestionDistance + 1
	for _, sub := range subcommands {
		distance := editDistance(input, sub.Name)
		if distance < bestDistance {
			best = sub.Name
			bestDistance = distance
		}
	}
	return best
}

// suggestFlag returns the closest defined flag (with leading dashes)
// for the first unknown long flag in args, or empty if nothing is
// close enough.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	var unknown string
	for _, arg := range args {
		if strings.HasPrefix(arg, "--") {
			name := strings.TrimPrefix(arg, "--")
			if index := strings.IndexByte(name, '='); index >= 0 {
				name = name[:index]
			}
			if flagSet.Lookup(name) == nil {
				unknown = name
				break
			}
		}
	}
	if unknown == "" {
		return ""
	}

	best := ""
	bestDistance := maxSuggestionDistance + 1
	flagSet.VisitAll(func(flag *pflag.Flag) {
		distance := editDistance(unknown, flag.Name)
		if distance < bestDistance {
			best = flag.Name
			bestDistance = distance
		}
	})
	if best == "" {
		return ""
	}
	return "--" + best
}

// editDistance computes the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	if a == b {
		return 0
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
