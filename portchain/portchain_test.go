package portchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestHubPort(t *testing.T) {
	assert.Equal(t, "1-2", HubPort("1-2"))
	assert.Equal(t, "1-2", HubPort("1-2.3"))
	assert.Equal(t, "1-2.3", HubPort("1-2.3.1"))
	assert.Equal(t, "", HubPort(""))
}

func TestIsInterfaceOf(t *testing.T) {
	assert.True(t, IsInterfaceOf("1-2.3", "1-2"))
	assert.False(t, IsInterfaceOf("1-2", "1-2"))
	assert.False(t, IsInterfaceOf("1-3", "1-2"))
	assert.False(t, IsInterfaceOf("1-2.x", "1-2"))
	assert.False(t, IsInterfaceOf("1-2.3", ""))
}

// Scenario invariant 10.
func TestExpectedNext(t *testing.T) {
	got, ok := ExpectedNext("1-4")
	assert.True(t, ok)
	assert.Equal(t, "1-5", got)

	got, ok = ExpectedNext("1-4.2")
	assert.True(t, ok)
	assert.Equal(t, "1-4.3", got)

	_, ok = ExpectedNext("")
	assert.False(t, ok)

	_, ok = ExpectedNext("no-digits-")
	assert.False(t, ok)
}

// Scenario invariant 11.
func TestRelated(t *testing.T) {
	assert.True(t, Related("1-2", "1-2.1"))
	assert.True(t, Related("1-2.1", "1-2.2"))
	assert.True(t, Related("1-2", "1-3"))
	assert.False(t, Related("1-2", "2-3"))
}

func TestRelatedEmptyIsUnknown(t *testing.T) {
	assert.False(t, Related("", ""))
	assert.False(t, Related("1-2", ""))
	assert.False(t, Related("", "1-2"))
}

func TestRelatedIsReflexive(t *testing.T) {
	for _, p := range []string{"1-2", "1-2.3", "", "1-2.3.4"} {
		if p == "" {
			continue
		}
		assert.True(t, Related(p, p))
	}
}

// Totality: none of these functions may panic on arbitrary input.
func TestTotalOnArbitraryStrings(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.String().Draw(t, "a")
		b := rapid.String().Draw(t, "b")

		assert.NotPanics(t, func() {
			HubPort(a)
			IsInterfaceOf(a, b)
			Related(a, b)
			ExpectedNext(a)
		})
	})
}

func TestRelatedSymmetric(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genPortChain().Draw(t, "a")
		b := genPortChain().Draw(t, "b")
		assert.Equal(t, Related(a, b), Related(b, a))
	})
}

// genPortChain produces plausible "<bus>-<dots>" style strings so Related's
// structural rules are actually exercised rather than almost always false.
func genPortChain() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		bus := rapid.IntRange(1, 3).Draw(t, "bus")
		depth := rapid.IntRange(1, 3).Draw(t, "depth")
		s := rapid.IntRange(1, 9).Draw(t, "root")
		out := portOf(bus) + "-" + digitOf(s)
		for i := 1; i < depth; i++ {
			out += "." + digitOf(rapid.IntRange(1, 9).Draw(t, "seg"))
		}
		return out
	})
}

func portOf(n int) string { return digitOf(n) }
func digitOf(n int) string {
	return string(rune('0' + n))
}
