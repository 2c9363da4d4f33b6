package vfs

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"pxelinux.0", "pxelinux.0", true},
		{"/pxelinux.0", "pxelinux.0", true},
		{"a/b/c", "a/b/c", true},
		{"./a/./b", "a/b", true},
		{"", "", true},
		{"..", "", false},
		{"../etc/passwd", "", false},
		{"/../etc/passwd", "", false},
		{"a/../b", "", false},
		{"a/b\x00", "", false},
	}
	for _, tt := range tests {
		got, ok := normalize(tt.in)
		if ok != tt.ok {
			t.Errorf("normalize(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
