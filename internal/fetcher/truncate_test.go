package fetcher

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func anchoredRules(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("||host%d.example.com^", i)
	}
	return out
}

func plainRules(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("/path%d/ads/", i)
	}
	return out
}

func TestTruncateUnderCap(t *testing.T) {
	rules := append(anchoredRules(3), plainRules(3)...)
	assert.Equal(t, rules, TruncateRules(rules, 100))
}

func TestTruncateAnchoredPriority(t *testing.T) {
	// More of both classes than the cap allows: anchored rules must fill
	// their 70% share before any plain rule appears.
	rules := append(anchoredRules(100), plainRules(100)...)
	out := TruncateRules(rules, 10)

	assert.Len(t, out, 10)
	for i := 0; i < 7; i++ {
		assert.True(t, isDomainAnchored(out[i]), "position %d should be domain-anchored", i)
	}
	for i := 7; i < 10; i++ {
		assert.False(t, isDomainAnchored(out[i]), "position %d should be plain", i)
	}
}

func TestTruncateBackfillsWithAnchored(t *testing.T) {
	rules := append(anchoredRules(100), plainRules(1)...)
	out := TruncateRules(rules, 10)

	assert.Len(t, out, 10)
	plain := 0
	for _, r := range out {
		if !isDomainAnchored(r) {
			plain++
		}
	}
	assert.Equal(t, 1, plain)
}

func TestTruncateFewAnchored(t *testing.T) {
	rules := append(anchoredRules(2), plainRules(100)...)
	out := TruncateRules(rules, 10)

	assert.Len(t, out, 10)
	assert.Equal(t, anchoredRules(2), out[:2])
}

func TestTruncatePreservesOrder(t *testing.T) {
	rules := []string{
		"||a.com^", "/x/", "||b.com^", "/y/", "||c.com^", "/z/",
	}
	out := TruncateRules(rules, 4)
	// 70% of 4 = 2 anchored, then plain in original order.
	assert.Equal(t, []string{"||a.com^", "||b.com^", "/x/", "/y/"}, out)
}

func TestIsDomainAnchored(t *testing.T) {
	assert.True(t, isDomainAnchored("||ads.example.com^"))
	assert.True(t, isDomainAnchored("@@||cdn.example.com^"))
	assert.False(t, isDomainAnchored("/banner/"))
	assert.False(t, isDomainAnchored("|https://example.com/"))
}
