// Package portchain implements the pure string algorithms used to identify
// and compare USB port-chain locations, e.g. "1-2", "1-2.3", or an
// OS-specific location identifier on Windows.
//
// Every function here is total over arbitrary input strings: none of them
// fail, and an empty string always means "unknown" rather than an error.
package portchain

import "strconv"

// HubPort returns the dotted prefix of p obtained by removing the last
// dot-separated component, or p itself if p has no dot. It identifies the
// upstream hub port that p is plugged into.
func HubPort(p string) string {
	idx := lastDot(p)
	if idx < 0 {
		return p
	}
	return p[:idx]
}

// IsInterfaceOf reports whether sub is an interface-level refinement of
// parent, i.e. sub == parent + "." + digits.
func IsInterfaceOf(sub, parent string) bool {
	if parent == "" || sub == "" {
		return false
	}
	if len(sub) <= len(parent)+1 || sub[:len(parent)] != parent || sub[len(parent)] != '.' {
		return false
	}
	return isAllDigits(sub[len(parent)+1:])
}

// Related reports whether a and b refer to the same or adjacent USB
// locations: identical, one a dotted prefix of the other, siblings under the
// same hub port, or differing only in the trailing numeric component by at
// most 2. Two empty strings, or one empty string, are never related.
func Related(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if isDottedPrefix(a, b) || isDottedPrefix(b, a) {
		return true
	}
	if aHub, bHub := HubPort(a), HubPort(b); aHub == bHub && lastDot(a) >= 0 && lastDot(b) >= 0 {
		return true // siblings: same last-dot prefix
	}
	if closeTrailingNumber(a, b, 2) {
		return true
	}
	return false
}

// ExpectedNext returns h with its trailing integer incremented by 1 — the
// "Gen2 rule" hub port one number above h. It returns "", false if h has no
// trailing integer component.
func ExpectedNext(h string) (string, bool) {
	prefix, n, ok := splitTrailingInt(h)
	if !ok {
		return "", false
	}
	return prefix + strconv.Itoa(n+1), true
}

// --- internal helpers -------------------------------------------------

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isDottedPrefix reports whether child is exactly parent with one or more
// additional ".digits" components appended (parent is a prefix at a dot
// boundary, at any depth — not just one level).
func isDottedPrefix(parent, child string) bool {
	if parent == "" || child == "" || len(child) <= len(parent) {
		return false
	}
	if child[:len(parent)] != parent || child[len(parent)] != '.' {
		return false
	}
	rest := child[len(parent)+1:]
	for _, part := range splitDot(rest) {
		if !isAllDigits(part) {
			return false
		}
	}
	return true
}

func splitDot(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// closeTrailingNumber reports whether a and b share everything up to their
// trailing digit run and that run, parsed as an integer, differs by at most
// delta.
func closeTrailingNumber(a, b string, delta int) bool {
	aPrefix, an, aok := splitTrailingInt(a)
	bPrefix, bn, bok := splitTrailingInt(b)
	if !aok || !bok || aPrefix != bPrefix {
		return false
	}
	d := an - bn
	if d < 0 {
		d = -d
	}
	return d <= delta
}

// splitTrailingInt splits s into everything up to (and including) the last
// run of digits and that run parsed as an integer. It returns ok=false if s
// has no trailing digit run.
func splitTrailingInt(s string) (prefix string, n int, ok bool) {
	end := len(s)
	i := end
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == end {
		return "", 0, false
	}
	v, err := strconv.Atoi(s[i:end])
	if err != nil {
		return "", 0, false
	}
	return s[:i], v, true
}
