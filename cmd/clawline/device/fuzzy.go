// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// Slab sizes match fzf's own defaults; one slab is reused across the
// targets of a single filter pass.
const (
	slab16Size = 100 * 1024
	slab32Size = 2048
)

// fuzzyFilter ranks targets against term using fzf's FuzzyMatchV2 and
// returns them ordered by descending match score. It plugs into the
// pairing list as its filter function.
func fuzzyFilter(term string, targets []string) []list.Rank {
	pattern := []rune(strings.ToLower(term))
	slab := util.MakeSlab(slab16Size, slab32Size)

	type scored struct {
		rank  list.Rank
		score int
	}
	var matches []scored
	for index, target := range targets {
		chars := util.ToChars([]byte(target))
		result, positions := algo.FuzzyMatchV2(false, true, true, &chars, pattern, true, slab)
		if result.Start < 0 {
			continue
		}
		var matched []int
		if positions != nil {
			matched = *positions
		}
		matches = append(matches, scored{
			rank:  list.Rank{Index: index, MatchedIndexes: matched},
			score: result.Score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	ranks := make([]list.Rank, len(matches))
	for i, match := range matches {
		ranks[i] = match.rank
	}
	return ranks
}
