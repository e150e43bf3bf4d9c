package capture

import "testing"

func TestGrabRequestEncoding(t *testing.T) {
	// EVIOCGRAB is _IOW('E', 0x90, int): write direction in the top two
	// bits, a 4-byte payload size, magic 'E', request number 0x90.
	want := 1<<30 | 4<<16 | int('E')<<8 | 0x90
	if eviocgrab != want {
		t.Errorf("eviocgrab = %#x, want %#x", eviocgrab, want)
	}
}

func TestCharForKeycode(t *testing.T) {
	cases := []struct {
		code  uint16
		shift bool
		want  rune
	}{
		{16, false, 'q'},
		{39, false, ';'},
		{39, true, ':'},
		{30, true, 'a'}, // shifted letters stay lowercase
		{57, false, ' '},
		{1, false, 0}, // Esc has no character
		{keyLeftShift, false, 0},
	}

	for _, tc := range cases {
		if got := charForKeycode(tc.code, tc.shift); got != tc.want {
			t.Errorf("charForKeycode(%d, %v) = %q, want %q", tc.code, tc.shift, got, tc.want)
		}
	}
}
