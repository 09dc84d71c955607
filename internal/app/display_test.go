package app

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/rokoter/LinuxCNC/internal/telemetry"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

func litPixels(img *image1bit.VerticalLSB, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.BitAt(x, y) == image1bit.On {
				n++
			}
		}
	}
	return n
}

func TestRenderStatus(t *testing.T) {
	waiting := renderStatus(telemetry.Snapshot{})
	assert.Zero(t, litPixels(waiting, image.Rect(0, 0, 128, 13)), "top line is blank while waiting")
	assert.NotZero(t, litPixels(waiting, image.Rect(0, 13, 128, 40)))

	snap := telemetry.Snapshot{
		HaveData: true,
		Status:   "EMERGENCY",
		EStop:    true,
		Latest:   record(5, 6.5, vibration.Emergency),
		Peak:     6.5,
		RMS:      3.2,
	}
	img := renderStatus(snap)
	assert.NotZero(t, litPixels(img, image.Rect(0, 0, 128, 13)))
	assert.Zero(t, litPixels(img, image.Rect(0, 55, 128, 64)), "no drop line without drops")

	snap.Dropped = 12
	img = renderStatus(snap)
	assert.NotZero(t, litPixels(img, image.Rect(0, 55, 128, 64)))
}

type fakePanel struct {
	mu    sync.Mutex
	draws int
}

func (p *fakePanel) Bounds() image.Rectangle { return image.Rect(0, 0, 128, 64) }

func (p *fakePanel) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draws++
	return nil
}

func (p *fakePanel) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draws
}

func TestRunPanel(t *testing.T) {
	hub, _ := newTestHub(record(1, 1.0, vibration.Normal))
	dev := &fakePanel{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runPanel(ctx, dev, time.Millisecond, hub) }()

	require.Eventually(t, func() bool { return dev.count() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
