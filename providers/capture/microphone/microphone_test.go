package microphone

import (
	"testing"

	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

func TestMatchDevice(t *testing.T) {
	t.Parallel()

	names := []string{"Built-in Microphone", "USB Audio CODEC", "Monitor of Built-in Audio"}
	tests := []struct {
		want string
		idx  int
	}{
		{want: "usb", idx: 1},
		{want: "  built-in  ", idx: 0},
		{want: "monitor", idx: 2},
		{want: "bluetooth", idx: -1},
	}
	for _, tc := range tests {
		if got := matchDevice(names, tc.want); got != tc.idx {
			t.Fatalf("matchDevice(%q): expected %d, got %d", tc.want, tc.idx, got)
		}
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		names  []string
		want   string
		status contracts.AuthorizationStatus
	}{
		{name: "no devices", names: nil, status: contracts.AuthorizationDenied},
		{name: "default device", names: []string{"Mic"}, status: contracts.AuthorizationGranted},
		{name: "named device present", names: []string{"Mic", "USB"}, want: "usb", status: contracts.AuthorizationGranted},
		{name: "named device missing", names: []string{"Mic"}, want: "usb", status: contracts.AuthorizationDenied},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := statusFor(tc.names, tc.want); got != tc.status {
				t.Fatalf("expected %s, got %s", tc.status, got)
			}
		})
	}
}
