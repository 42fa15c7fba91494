package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root, err := RootDir()
	if err != nil {
		t.Fatalf("RootDir: %v", err)
	}
	if filepath.Base(root) != rootDirName {
		t.Errorf("RootDir() = %q, want suffix %q", root, rootDirName)
	}
}

func TestInRootCreatesDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := InRoot("sub", "file.txt")
	if err != nil {
		t.Fatalf("InRoot: %v", err)
	}
	if !strings.HasPrefix(path, filepath.Join(home, rootDirName)) {
		t.Errorf("InRoot path %q not rooted under %q", path, home)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("expected parent dir of %q to exist", path)
	}
}

func TestWellKnownPaths(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cases := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"sock", SockFile, "sock"},
		{"pid", PIDFile, "pid"},
		{"config", ConfigFile, "config.json"},
		{"process-groups", ProcessGroupsFile, "process-groups.json"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.fn()
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if filepath.Base(got) != tc.want {
				t.Errorf("%s() = %q, want basename %q", tc.name, got, tc.want)
			}
		})
	}
}
