package sasquatch

import "runtime"

// DefaultOptions returns the settings used when no flags are given.
func DefaultOptions() Options {
	return Options{
		Workers:       runtime.NumCPU(),
		Checksum:      defaultChecksumName,
		SpaceCheck:    true,
		FragmentCache: defaultFragCache,
	}
}
