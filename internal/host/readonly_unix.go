//go:build linux || darwin

package host

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isReadOnlyVolume(path string) bool {
	err := unix.Access(path, unix.W_OK)
	return errors.Is(err, unix.EROFS)
}
