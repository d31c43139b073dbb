//go:build !linux && !darwin

package host

func isReadOnlyVolume(string) bool {
	return false
}
