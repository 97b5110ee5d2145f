package guard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsHidden_FlagsKnownRanges(t *testing.T) {
	require.True(t, IsHidden('​')) // zero-width space
	require.True(t, IsHidden('﻿')) // BOM
	require.True(t, IsHidden('‮')) // right-to-left override
	require.True(t, IsHidden('­')) // soft hyphen
	require.False(t, IsHidden('a'))
	require.False(t, IsHidden('漢'))
}

func TestStrip_RemovesHiddenCodePointsOnly(t *testing.T) {
	in := "hel​lo wor﻿ld"
	require.Equal(t, "hello world", Strip(in))
}

func TestStrip_NoOpWhenNothingHidden(t *testing.T) {
	require.Equal(t, "plain text", Strip("plain text"))
}

func TestScan_ReturnsHitsInOrderIncludingDuplicates(t *testing.T) {
	hits := Scan("a​b​c")
	require.Equal(t, []rune{'​', '​'}, hits)
}

func TestCheck_StripModeCleansText(t *testing.T) {
	result := Check([]string{"clean", "dir​ty"}, ModeStrip)
	require.False(t, result.Blocked)
	require.Equal(t, []string{"clean", "dirty"}, result.Stripped)
	require.Len(t, result.Hits, 1)
}

func TestCheck_BlockModeRejectsAndCapsReportedHits(t *testing.T) {
	dirty := make([]rune, 0, 15)
	for i := 0; i < 15; i++ {
		dirty = append(dirty, '​')
	}
	result := Check([]string{string(dirty)}, ModeBlock)
	require.True(t, result.Blocked)
	require.Len(t, result.Hits, MaxReportedHits)
}

func TestCheck_NoHitsReturnsUnblockedWithOriginalTexts(t *testing.T) {
	result := Check([]string{"a", "b"}, ModeBlock)
	require.False(t, result.Blocked)
	require.Equal(t, []string{"a", "b"}, result.Stripped)
}
