//go:build linux || darwin || freebsd || netbsd || openbsd

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SO_REUSEADDR via a raw syscall before bind, grounded on the teacher's
// transport/tcp/affinity_linux.go raw-syscall style (there: sched_setaffinity;
// here: setsockopt).
package engine

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setReuseAddr(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
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
