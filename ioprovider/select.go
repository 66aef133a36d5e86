// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package ioprovider

import (
	"fmt"
	"runtime"
)

// backendCtor is implemented per-platform in build-tagged files.
type backendCtor func() (Provider, error)

// registry is populated by each platform's init() with the backends it can
// offer, highest-performance first within its fallback chain.
var registry = map[string]backendCtor{}

func register(name string, ctor backendCtor) {
	registry[name] = ctor
}

func selectHinted(hint string) (Provider, error) {
	ctor, ok := registry[hint]
	if !ok {
		return nil, newErr(ErrPlatformNotSupported, fmt.Sprintf("backend %q not available on %s", hint, runtime.GOOS))
	}
	return ctor()
}

// selectDefault walks the platform's fallback chain, returning the first
// backend that constructs successfully.
func selectDefault() (Provider, error) {
	chain := fallbackChain()
	var lastErr error
	for _, name := range chain {
		ctor, ok := registry[name]
		if !ok {
			continue
		}
		p, err := ctor()
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = newErr(ErrPlatformNotSupported, "no backend registered for "+runtime.GOOS)
	}
	return nil, lastErr
}
