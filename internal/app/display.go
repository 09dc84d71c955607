package app

import (
	"context"
	"fmt"
	"image"
	"log"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/rokoter/LinuxCNC/internal/telemetry"
)

// panel is the part of ssd1306.Dev the status screen needs.
type panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// RunDisplay shows the monitor state on an SSD1306 OLED until ctx is done.
func RunDisplay(ctx context.Context, busName string, interval time.Duration, hub *telemetry.Hub) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Printf("display: initialized on I2C bus %q", busName)

	return runPanel(ctx, dev, interval, hub)
}

func runPanel(ctx context.Context, dev panel, interval time.Duration, hub *telemetry.Hub) error {
	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), renderStatus(hub.Snapshot()), image.Point{}); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		}
	}
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawBytes([]byte(s))
}

func renderStatus(snap telemetry.Snapshot) *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	if !snap.HaveData {
		drawLine(drawer, 0, 26, "Vibration")
		drawLine(drawer, 0, 39, "Waiting...")
		return img
	}

	status := snap.Status
	if snap.EStop {
		status += " ESTOP"
	}
	drawLine(drawer, 0, 13, status)
	drawLine(drawer, 0, 26, fmt.Sprintf("Mag:  %5.2f g", snap.Latest.Sample.Magnitude))
	drawLine(drawer, 0, 39, fmt.Sprintf("Peak: %5.2f g", snap.Peak))
	drawLine(drawer, 0, 52, fmt.Sprintf("RMS:  %5.2f g", snap.RMS))
	if snap.Dropped > 0 {
		drawLine(drawer, 0, 64, fmt.Sprintf("drop %d", snap.Dropped))
	}
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, drawer := newCanvas()
	drawLine(drawer, 10, 26, "CNC Vibration")
	drawLine(drawer, 25, 43, "Monitor")
	return img
}
