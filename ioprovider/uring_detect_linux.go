//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package ioprovider

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// kernelSupportsIOUring reports whether the running kernel is new enough
// (5.1+) to support io_uring, per spec.md 4.1's platform-gating rule.
func kernelSupportsIOUring() bool {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return false
	}
	release := string(uts.Release[:])
	if i := strings.IndexByte(release, 0); i >= 0 {
		release = release[:i]
	}
	major, minor, ok := parseKernelVersion(release)
	if !ok {
		return false
	}
	if major > 5 {
		return true
	}
	return major == 5 && minor >= 1
}

func parseKernelVersion(release string) (major, minor int, ok bool) {
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	maj, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	// minor may carry a trailing suffix such as "15-generic" handled by atoi prefix scan.
	minStr := parts[1]
	end := 0
	for end < len(minStr) && minStr[end] >= '0' && minStr[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, 0, false
	}
	min, err := strconv.Atoi(minStr[:end])
	if err != nil {
		return 0, 0, false
	}
	return maj, min, true
}
