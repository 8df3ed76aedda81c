//go:build windows

package platform

// New builds the Enumerator for the running OS.
func New() Enumerator {
	return NewEnumeratorWindows()
}
