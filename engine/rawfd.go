// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package engine

import "net"

// rawFD extracts the OS socket handle from a *net.TCPConn via SyscallConn
// so it can be registered directly with an ioprovider.Provider. The
// Session retains conn as its io.Closer, keeping the descriptor alive for
// as long as the provider may still reference it.
func rawFD(conn *net.TCPConn) (uintptr, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	if err := sc.Control(func(h uintptr) {
		fd = h
	}); err != nil {
		return 0, err
	}
	return fd, nil
}
