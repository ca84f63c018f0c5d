package sasquatch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSafeJoin(t *testing.T) {
	base := filepath.Join(t.TempDir(), "base")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cases := []struct {
		target  string
		want    string
		wantErr bool
	}{
		{"file.txt", filepath.Join(base, "file.txt"), false},
		{"sub/dir/../file.txt", filepath.Join(base, "sub", "file.txt"), false},
		{filepath.Join("sub", "dir"), filepath.Join(base, "sub", "dir"), false},
		{"../../evil", "", true},
		{"..", "", true},
		{"../evil.txt", "", true},
		{"/../../evil", filepath.Join(base, "evil"), false},
		{"/absolute/file", filepath.Join(base, "absolute", "file"), false},
	}

	for _, tc := range cases {
		got, err := safeJoin(base, tc.target)
		if tc.wantErr {
			if err == nil {
				t.Errorf("expected error for target %q, got path %q", tc.target, got)
			}
		} else {
			if err != nil {
				t.Errorf("unexpected error for target %q: %v", tc.target, err)
			} else if got != tc.want {
				t.Errorf("safeJoin(%q) = %q, want %q", tc.target, got, tc.want)
			}
		}
	}
}

func TestInScope(t *testing.T) {
	wanted := []string{"etc/passwd", "/usr/lib/"}
	cases := []struct {
		path          string
		match, parent bool
	}{
		{"", false, true},
		{"etc", false, true},
		{"etc/passwd", true, false},
		{"etc/passwd.bak", false, false},
		{"etc/group", false, false},
		{"usr", false, true},
		{"usr/lib", true, false},
		{"usr/lib/libc.so", true, false},
		{"usr/libexec", false, false},
		{"bin", false, false},
	}
	for _, tc := range cases {
		match, parent := inScope(tc.path, wanted)
		if match != tc.match || parent != tc.parent {
			t.Errorf("inScope(%q) = %v, %v; want %v, %v", tc.path, match, parent, tc.match, tc.parent)
		}
	}
	if match, _ := inScope("anything", nil); !match {
		t.Errorf("empty list should match everything")
	}
}

func TestDefaultDestination(t *testing.T) {
	cases := map[string]string{
		"firmware.bin":          "firmware-root",
		"/tmp/images/rootfs.sq": "rootfs-root",
		"noext":                 "noext-root",
		"a.b.c":                 "a.b-root",
	}
	for in, want := range cases {
		if got := DefaultDestination(in); got != want {
			t.Errorf("DefaultDestination(%q) = %q, want %q", in, got, want)
		}
	}
}
