package sasquatch

import "strings"

// SuperFlags is the flag word of a superblock.
type SuperFlags uint16

// IsSet checks if the specified bit(s) are set.
func (f SuperFlags) IsSet(flag SuperFlags) bool {
	return f&flag == flag
}

func (f SuperFlags) String() string {
	return strings.Join(f.Names(), ", ")
}

// Names returns the human-readable names of the set flags.
func (f SuperFlags) Names() []string {
	var out []string
	for x := 0; 1<<x < fTop; x++ {
		if f.IsSet(1 << x) {
			out = append(out, flagNames[x])
		}
	}
	return out
}

func showFlags(flags SuperFlags) {
	if s := flags.String(); s != "" {
		doLog(true, "Image Flags: %v", s)
	}
}
