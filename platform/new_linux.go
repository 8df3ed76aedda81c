//go:build linux

package platform

// New builds the Enumerator for the running OS.
func New() Enumerator {
	return NewEnumeratorLinux()
}
