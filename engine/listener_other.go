//go:build !linux && !windows && !darwin && !freebsd && !netbsd && !openbsd

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package engine

import "syscall"

func listenControl(_, _ string, _ syscall.RawConn) error { return nil }
