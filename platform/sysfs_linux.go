//go:build linux

package platform

import (
	"os"
	"path/filepath"
	"strings"
)

func readDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// resolveSymlink follows a (possibly relative) symlink and returns the
// cleaned absolute sys-path it points at.
func resolveSymlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return filepath.Clean(target), nil
}

// nearestUSBAncestorAttrs walks up a sys-path looking for a directory that
// carries idVendor/idProduct attribute files — the usb_device ancestor — and
// returns its VID/PID and sys-path.
func nearestUSBAncestorAttrs(syspath string) (vid, pid, usbSysPath string, ok bool) {
	dir := syspath
	for dir != "/" && dir != "." && dir != "" {
		vidBytes, errV := os.ReadFile(filepath.Join(dir, "idVendor"))
		pidBytes, errP := os.ReadFile(filepath.Join(dir, "idProduct"))
		if errV == nil && errP == nil {
			return strings.TrimSpace(string(vidBytes)), strings.TrimSpace(string(pidBytes)), dir, true
		}
		dir = filepath.Dir(dir)
	}
	return "", "", "", false
}
