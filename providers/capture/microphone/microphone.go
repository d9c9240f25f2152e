// Package microphone captures 16-bit PCM from the default (or a named)
// capture device through miniaudio.
package microphone

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

type Config struct {
	// DeviceName selects a capture device by case-insensitive substring.
	// Empty uses the system default.
	DeviceName string
	Logger     zerolog.Logger
}

// Source opens microphone captures. It also serves as the Authorizer: speech
// capture is granted when at least one matching capture device is visible.
type Source struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config) *Source {
	return &Source{cfg: cfg, log: cfg.Logger.With().Str("component", "microphone").Logger()}
}

// AuthorizationStatus enumerates capture devices on every call.
func (s *Source) AuthorizationStatus() contracts.AuthorizationStatus {
	names, err := s.deviceNames()
	if err != nil {
		s.log.Warn().Err(err).Msg("enumerate capture devices")
		return contracts.AuthorizationDenied
	}
	return statusFor(names, s.cfg.DeviceName)
}

// RequestAuthorization has no prompt to show on desktop platforms; it
// re-checks device visibility.
func (s *Source) RequestAuthorization(ctx context.Context) (contracts.AuthorizationStatus, error) {
	if err := ctx.Err(); err != nil {
		return contracts.AuthorizationNotDetermined, err
	}
	return s.AuthorizationStatus(), nil
}

func (s *Source) Open(ctx context.Context, format contracts.AudioFormat, onFrame func(pcm []byte)) (contracts.Capture, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if onFrame == nil {
		return nil, fmt.Errorf("frame callback is required")
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)

	if s.cfg.DeviceName != "" {
		devices, err := mctx.Devices(malgo.Capture)
		if err != nil {
			release(mctx)
			return nil, fmt.Errorf("enumerate capture devices: %w", err)
		}
		names := make([]string, len(devices))
		for i, d := range devices {
			names[i] = d.Name()
		}
		idx := matchDevice(names, s.cfg.DeviceName)
		if idx < 0 {
			release(mctx)
			return nil, fmt.Errorf("capture device %q not found", s.cfg.DeviceName)
		}
		deviceConfig.Capture.DeviceID = devices[idx].ID.Pointer()
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) > 0 {
				onFrame(input)
			}
		},
	})
	if err != nil {
		release(mctx)
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		release(mctx)
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	s.log.Debug().Int("sample_rate", format.SampleRate).Int("channels", format.Channels).Msg("capture started")
	return &capture{ctx: mctx, device: device}, nil
}

func (s *Source) deviceNames() ([]string, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	defer release(mctx)
	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name()
	}
	return names, nil
}

type capture struct {
	once   sync.Once
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// Close stops the device and frees the audio context. It must not be called
// from inside the frame callback.
func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		err = c.device.Stop()
		c.device.Uninit()
		release(c.ctx)
	})
	return err
}

func release(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

func matchDevice(names []string, want string) int {
	want = strings.ToLower(strings.TrimSpace(want))
	for i, name := range names {
		if strings.Contains(strings.ToLower(name), want) {
			return i
		}
	}
	return -1
}

func statusFor(names []string, want string) contracts.AuthorizationStatus {
	if len(names) == 0 {
		return contracts.AuthorizationDenied
	}
	if strings.TrimSpace(want) != "" && matchDevice(names, want) < 0 {
		return contracts.AuthorizationDenied
	}
	return contracts.AuthorizationGranted
}
