package main

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"
)

// startProfile writes a CPU profile of the run to name. Profiles of real
// extractions saved as default.pgo feed profile guided builds.
func startProfile(name string, stderr io.Writer) (func(), error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("profile start: %w", err)
	}
	return func() {
		pprof.StopCPUProfile()
		if err := f.Close(); err != nil {
			fmt.Fprintf(stderr, "sasquatch: profile close: %v\n", err)
			return
		}
		fmt.Fprintf(stderr, "%s written\n", name)
	}, nil
}
