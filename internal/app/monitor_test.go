package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/rokoter/LinuxCNC/internal/config"
	"github.com/rokoter/LinuxCNC/internal/vibration"
)

func TestOutputPinMissing(t *testing.T) {
	pin, err := outputPin("", "estop", true)
	require.NoError(t, err)
	lp, ok := pin.(*logPin)
	require.True(t, ok)
	assert.Equal(t, "estop", lp.name)

	require.NoError(t, pin.Out(gpio.Low))
	require.NoError(t, pin.Out(gpio.Low))
	assert.Equal(t, gpio.Low, lp.last)
	assert.True(t, lp.set)

	_, err = outputPin("", "estop", false)
	assert.ErrorIs(t, err, vibration.ErrConfigInvalid)
}

func TestSensorOptions(t *testing.T) {
	cfg := &config.Config{
		Sensor:         config.SensorMock,
		IMUSPIDevice:   "/dev/spidev0.0",
		IMUCSPin:       "GPIO8",
		IMUAccelRange:  3,
		IMUGyroRange:   1,
		MockNoiseG:     0.02,
		MockBurstEvery: 500,
		MockBurstLen:   4,
		MockBurstG:     7,
	}
	opts := sensorOptions(cfg)
	assert.Equal(t, config.SensorMock, opts.Kind)
	assert.Equal(t, "GPIO8", opts.CSPin)
	assert.Equal(t, byte(3), opts.Scale.AccelRange)
	assert.Equal(t, 500, opts.Mock.BurstEvery)
	assert.Equal(t, 7.0, opts.Mock.BurstG)
}

func TestOpenSoftWatchdog(t *testing.T) {
	cfg := &config.Config{WatchdogTimeoutMS: 1000}
	wd, err := openWatchdog(cfg, func(error) {})
	require.NoError(t, err)
	require.NoError(t, wd.Feed())
	assert.NoError(t, wd.Close())
}

func TestRecordEvents(t *testing.T) {
	hub, ring := newTestHub()
	store := &fakeStore{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recordEvents(ctx, hub, store) }()

	var seq uint64
	require.Eventually(t, func() bool {
		seq += 2
		ring.Push(record(seq-1, 6.5, vibration.Emergency))
		ring.Push(record(seq, 1.0, vibration.Normal))
		hub.Drain()
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.events) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
