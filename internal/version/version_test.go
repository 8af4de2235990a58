package version

import "testing"

func TestDisplay(t *testing.T) {
	original := version
	defer func() { version = original }()

	tests := []struct {
		in   string
		want string
	}{
		{"dev", "dev"},
		{"", ""},
		{"1.2.3", "v1.2.3"},
		{"v1.2.3", "v1.2.3"},
	}
	for _, tc := range tests {
		version = tc.in
		if got := Display(); got != tc.want {
			t.Errorf("Display() with version=%q = %q, want %q", tc.in, got, tc.want)
		}
	}
}
