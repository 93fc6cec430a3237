// Package testutil holds header fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// GeoHeader declares one struct and one free function in namespace geo.
// On both data models Point is 8 bytes aligned to 4.
const GeoHeader = `namespace geo {
struct Point {
  int x;
  int y;
};
double norm(const Point& p);
}
`

// GeoNormSymbol is the Itanium name of geo::norm(geo::Point const&).
const GeoNormSymbol = "_ZN3geo4normERKNS_5PointE"

// CollidingHeader declares two records whose Ada names differ only in case.
const CollidingHeader = "struct Foo { int a; };\nstruct foo { int b; };\n"

// WriteFile writes content to dir/name, creating dir, and returns the path.
// The test fails on error.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// GeoDir writes GeoHeader as geo.hpp into a fresh temporary directory and
// returns the directory and the header path.
func GeoDir(t testing.TB) (string, string) {
	t.Helper()
	dir := t.TempDir()
	return dir, WriteFile(t, dir, "geo.hpp", GeoHeader)
}
