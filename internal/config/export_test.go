package config

import "testing"

// SetInstallRoot pins the install root for the duration of a test.
func SetInstallRoot(t *testing.T, dir string) {
	t.Helper()
	previous := installRoot
	installRoot = func() (string, error) { return dir, nil }
	t.Cleanup(func() { installRoot = previous })
}
