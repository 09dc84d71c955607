package safety

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

var testThresholds = vibration.ThresholdSet{Warning: 2.0, Critical: 4.0, Emergency: 6.0, Hysteresis: 0.2}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		current vibration.Severity
		mag     float64
		want    vibration.Severity
	}{
		{name: "quiet stays normal", current: vibration.Normal, mag: 1.0, want: vibration.Normal},
		{name: "escalate at cutoff", current: vibration.Normal, mag: 2.0, want: vibration.Warning},
		{name: "escalate skips bands", current: vibration.Normal, mag: 6.5, want: vibration.Emergency},
		{name: "critical to emergency", current: vibration.Critical, mag: 6.0, want: vibration.Emergency},
		{name: "inside hysteresis holds", current: vibration.Warning, mag: 1.85, want: vibration.Warning},
		{name: "below hysteresis drops", current: vibration.Warning, mag: 1.79, want: vibration.Normal},
		{name: "emergency holds just below cutoff", current: vibration.Emergency, mag: 5.9, want: vibration.Emergency},
		{name: "emergency drops one band", current: vibration.Emergency, mag: 5.5, want: vibration.Critical},
		{name: "emergency walks to warning", current: vibration.Emergency, mag: 3.0, want: vibration.Warning},
		{name: "emergency walks to normal", current: vibration.Emergency, mag: 1.5, want: vibration.Normal},
		{name: "critical hysteresis at lower boundary", current: vibration.Critical, mag: 3.85, want: vibration.Critical},
		{name: "sensor fault with emergency reading", current: vibration.SensorFault, mag: 7.0, want: vibration.Emergency},
		{name: "sensor fault with quiet reading", current: vibration.SensorFault, mag: 1.0, want: vibration.Normal},
		{name: "NaN escalates", current: vibration.Normal, mag: math.NaN(), want: vibration.Emergency},
		{name: "NaN never de-escalates", current: vibration.Emergency, mag: math.NaN(), want: vibration.Emergency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.current, tt.mag, testThresholds))
		})
	}
}

func TestDebounceSamples(t *testing.T) {
	tests := []struct {
		debounce, period time.Duration
		want             int
	}{
		{50 * time.Millisecond, 10 * time.Millisecond, 5},
		{55 * time.Millisecond, 10 * time.Millisecond, 6},
		{50 * time.Millisecond, 5 * time.Millisecond, 10},
		{5 * time.Millisecond, 10 * time.Millisecond, 1},
		{0, 10 * time.Millisecond, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DebounceSamples(tt.debounce, tt.period), "%v / %v", tt.debounce, tt.period)
	}
}

func TestDebounceGate(t *testing.T) {
	t.Run("spike shorter than window is rejected", func(t *testing.T) {
		g := NewDebounceGate(5, 5)
		for i := 0; i < 4; i++ {
			assert.Equal(t, vibration.Normal, g.Update(vibration.Emergency))
		}
		assert.Equal(t, vibration.Normal, g.Update(vibration.Normal))
		s, n := g.Pending()
		assert.Equal(t, vibration.Normal, s)
		assert.Equal(t, 0, n)
	})

	t.Run("different candidate restarts the count", func(t *testing.T) {
		g := NewDebounceGate(3, 3)
		g.Update(vibration.Critical)
		g.Update(vibration.Critical)
		g.Update(vibration.Emergency)
		s, n := g.Pending()
		assert.Equal(t, vibration.Emergency, s)
		assert.Equal(t, 1, n)
		g.Update(vibration.Emergency)
		assert.Equal(t, vibration.Emergency, g.Update(vibration.Emergency))
	})

	t.Run("separate recovery window", func(t *testing.T) {
		g := NewDebounceGate(2, 4)
		g.Update(vibration.Warning)
		require.Equal(t, vibration.Warning, g.Update(vibration.Warning))
		for i := 0; i < 3; i++ {
			assert.Equal(t, vibration.Warning, g.Update(vibration.Normal))
		}
		assert.Equal(t, vibration.Normal, g.Update(vibration.Normal))
	})

	t.Run("force skips the window", func(t *testing.T) {
		g := NewDebounceGate(5, 5)
		g.Update(vibration.Warning)
		g.Force(vibration.SensorFault)
		assert.Equal(t, vibration.SensorFault, g.Effective())
		_, n := g.Pending()
		assert.Equal(t, 0, n)
	})

	t.Run("window below one is one", func(t *testing.T) {
		g := NewDebounceGate(0, -3)
		assert.Equal(t, vibration.Critical, g.Update(vibration.Critical))
		assert.Equal(t, vibration.Normal, g.Update(vibration.Normal))
	})
}

func TestSamplePeriod(t *testing.T) {
	p, err := SamplePeriod(100)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, p)

	p, err = SamplePeriod(200)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, p)

	for _, hz := range []int{0, 9, 201} {
		_, err := SamplePeriod(hz)
		assert.ErrorIs(t, err, vibration.ErrConfigInvalid, "%d Hz", hz)
	}
}

type busStep struct {
	mag float64
	err error
}

// scriptedBus returns readings whose calibrated magnitude is mag, with the
// acceleration on Z, then repeats the last step.
type scriptedBus struct {
	steps []busStep
	i     int
}

func magnitudes(ms ...float64) []busStep {
	out := make([]busStep, len(ms))
	for i, m := range ms {
		out[i] = busStep{mag: m}
	}
	return out
}

func (b *scriptedBus) Read(ctx context.Context) (vibration.Reading, error) {
	s := b.steps[min(b.i, len(b.steps)-1)]
	b.i++
	if s.err != nil {
		return vibration.Reading{}, s.err
	}
	return vibration.Reading{Accel: vibration.Vec3{Z: s.mag}}, nil
}

func TestSamplerAcquire(t *testing.T) {
	errNack := errors.New("i2c: nack")
	bus := &scriptedBus{steps: []busStep{
		{mag: 1.0},
		{err: errNack},
		{mag: math.Inf(1)},
	}}
	offsets := vibration.Offsets{Accel: vibration.Vec3{X: -3, Y: -4, Z: 1}}
	s := NewSampler(bus, offsets, 10*time.Millisecond)
	ctx := context.Background()

	got, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Tick)
	assert.Equal(t, vibration.Vec3{X: 3, Y: 4, Z: 0}, got.Calibrated.Accel)
	assert.InDelta(t, 5.0, got.Magnitude, 1e-9)

	got, err = s.Acquire(ctx)
	assert.ErrorIs(t, err, vibration.ErrSensorFault)
	assert.Equal(t, uint64(1), got.Tick)
	assert.Equal(t, 10*time.Millisecond, got.Time)
	assert.Zero(t, got.Magnitude)

	_, err = s.Acquire(ctx)
	assert.ErrorIs(t, err, vibration.ErrSensorFault)

	got, _ = s.Acquire(ctx)
	assert.Equal(t, uint64(3), got.Tick)
	assert.Equal(t, 30*time.Millisecond, got.Time)
}

// countingPin records every write.
type countingPin struct {
	level  gpio.Level
	writes int
	fail   bool
}

func (p *countingPin) Out(l gpio.Level) error {
	if p.fail {
		return errors.New("gpio: write failed")
	}
	p.level = l
	p.writes++
	return nil
}

func TestActuatorIdempotent(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO15", L: gpio.Low}
	a := NewActuator(pin, true)

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Apply(vibration.Emergency))
	}
	assert.Equal(t, uint64(1), a.Transitions())
	assert.Equal(t, gpio.Low, pin.Read())
	assert.True(t, a.Asserted())

	// SensorFault is the same command as Emergency
	require.NoError(t, a.Apply(vibration.SensorFault))
	assert.Equal(t, uint64(1), a.Transitions())

	for _, s := range []vibration.Severity{vibration.Normal, vibration.Warning, vibration.Critical} {
		require.NoError(t, a.Apply(s))
	}
	assert.Equal(t, uint64(2), a.Transitions())
	assert.Equal(t, gpio.High, pin.Read())
	assert.False(t, a.Asserted())
}

func TestActuatorActiveHigh(t *testing.T) {
	pin := &countingPin{}
	a := NewActuator(pin, false)
	require.NoError(t, a.Apply(vibration.Emergency))
	assert.Equal(t, gpio.High, pin.level)
	require.NoError(t, a.Apply(vibration.Normal))
	assert.Equal(t, gpio.Low, pin.level)
}

func TestActuatorRetriesAfterWriteError(t *testing.T) {
	pin := &countingPin{}
	a := NewActuator(pin, true)
	require.NoError(t, a.Apply(vibration.Emergency))

	pin.fail = true
	require.Error(t, a.Apply(vibration.Normal))
	pin.fail = false

	// the failed release left the driven state unknown, so even the
	// previously driven command is written again
	require.NoError(t, a.Apply(vibration.Emergency))
	assert.Equal(t, 2, pin.writes)
	assert.Equal(t, gpio.Low, pin.level)
}

func TestPatternFor(t *testing.T) {
	tests := []struct {
		sev  vibration.Severity
		want Pattern
	}{
		{vibration.Normal, Pattern{Color: Green}},
		{vibration.Warning, Pattern{Color: Yellow, Blink: SlowBlink}},
		{vibration.Critical, Pattern{Color: Red}},
		{vibration.Emergency, Pattern{Color: Red, Blink: FastBlink}},
		{vibration.SensorFault, Pattern{Color: Red, Blink: FastBlink}},
	}
	for _, tt := range tests {
		t.Run(tt.sev.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, PatternFor(tt.sev))
		})
	}
	assert.Equal(t, "slow-blink yellow", PatternFor(vibration.Warning).String())
}

func TestLevels(t *testing.T) {
	g, r := Levels(Pattern{Color: Yellow, Blink: SlowBlink}, 100*time.Millisecond)
	assert.Equal(t, gpio.High, g)
	assert.Equal(t, gpio.High, r)

	g, r = Levels(Pattern{Color: Yellow, Blink: SlowBlink}, 600*time.Millisecond)
	assert.Equal(t, gpio.Low, g)
	assert.Equal(t, gpio.Low, r)

	g, r = Levels(Pattern{Color: Red, Blink: FastBlink}, 450*time.Millisecond)
	assert.Equal(t, gpio.Low, g)
	assert.Equal(t, gpio.High, r)
}

func TestLEDIndicator(t *testing.T) {
	green := &countingPin{}
	red := &countingPin{}
	led := NewLEDIndicator(green, red)
	assert.Equal(t, PatternFor(vibration.SensorFault), led.Current())

	led.Show(PatternFor(vibration.Normal))
	require.NoError(t, led.update(0))
	require.NoError(t, led.update(time.Second))
	assert.Equal(t, 1, green.writes)
	assert.Equal(t, gpio.High, green.level)
	assert.Equal(t, gpio.Low, red.level)

	led.Show(PatternFor(vibration.Critical))
	require.NoError(t, led.update(2*time.Second))
	assert.Equal(t, gpio.Low, green.level)
	assert.Equal(t, gpio.High, red.level)
}

func TestLEDIndicatorSingleLED(t *testing.T) {
	green := &countingPin{}
	led := NewLEDIndicator(green, nil)
	led.Show(PatternFor(vibration.Critical))
	require.NoError(t, led.update(0))
	assert.Equal(t, gpio.High, green.level)
}

func TestSoftWatchdog(t *testing.T) {
	expired := make(chan error, 1)
	w := NewSoftWatchdog(60*time.Millisecond, func(err error) { expired <- err })

	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, w.Feed())
	}

	select {
	case err := <-expired:
		assert.ErrorIs(t, err, vibration.ErrWatchdogTimeout)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not expire")
	}
	assert.ErrorIs(t, w.Feed(), vibration.ErrWatchdogTimeout)
	assert.NoError(t, w.Close())
}

func TestSoftWatchdogClose(t *testing.T) {
	var fired atomic.Bool
	w := NewSoftWatchdog(10*time.Millisecond, func(error) { fired.Store(true) })
	require.NoError(t, w.Close())
	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.Error(t, w.Feed())
}
