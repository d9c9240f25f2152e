// Package silence is an audio source producing zeroed PCM frames, used when
// recognition does not need real audio.
package silence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tiger/speakloop/internal/runtime/provider/contracts"
)

// DefaultFrameInterval matches a typical 20 ms capture period.
const DefaultFrameInterval = 20 * time.Millisecond

type Source struct {
	FrameInterval time.Duration
}

// Open emits one silent S16 frame per interval until the capture is closed
// or ctx ends.
func (s Source) Open(ctx context.Context, format contracts.AudioFormat, onFrame func(pcm []byte)) (contracts.Capture, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if onFrame == nil {
		return nil, fmt.Errorf("frame callback is required")
	}
	interval := s.FrameInterval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	frame := make([]byte, FrameBytes(format, interval))

	c := &capture{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				onFrame(frame)
			}
		}
	}()
	return c, nil
}

// FrameBytes is the size of one S16 frame of the given duration.
func FrameBytes(format contracts.AudioFormat, d time.Duration) int {
	samples := int(int64(format.SampleRate) * int64(d) / int64(time.Second))
	return samples * format.Channels * 2
}

type capture struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// Close stops frame delivery and waits for the producer to exit.
func (c *capture) Close() error {
	c.once.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

// Authorizer always grants; there is no device to ask about.
type Authorizer struct{}

func (Authorizer) AuthorizationStatus() contracts.AuthorizationStatus {
	return contracts.AuthorizationGranted
}

func (Authorizer) RequestAuthorization(context.Context) (contracts.AuthorizationStatus, error) {
	return contracts.AuthorizationGranted, nil
}
