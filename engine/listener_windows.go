//go:build windows

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package engine

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func setReuseAddr(fd uintptr) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}

func listenControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = setReuseAddr(fd)
	}); err != nil {
		return err
	}
	return sockErr
}
