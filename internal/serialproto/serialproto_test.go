package serialproto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

func TestFormatData(t *testing.T) {
	rec := vibration.Record{
		Seq: 12,
		Sample: vibration.Sample{
			Tick: 12,
			Time: 120 * time.Millisecond,
			Calibrated: vibration.Reading{
				Accel: vibration.Vec3{X: 0.01234, Y: -1.5, Z: 6.4},
				Gyro:  vibration.Vec3{X: 10, Y: -0.0004, Z: 2.5},
			},
			Magnitude: 6.5721,
		},
		Severity: vibration.Emergency,
	}
	assert.Equal(t, "VIB:DATA,120,0.012,-1.500,6.400,10.000,-0.000,2.500,6.572,ESTOP", FormatData(rec))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		kind    string
		wantErr error
		estop   bool
	}{
		{name: "data ok", line: "VIB:DATA,120,0.012,-1.500,1.000,0,0,0,1.001,OK", kind: KindData},
		{name: "data estop status", line: "VIB:DATA,130,0,0,6.6,0,0,0,6.600,ESTOP\r\n", kind: KindData, estop: true},
		{name: "data fault status", line: "VIB:DATA,130,0,0,0,0,0,0,0.000,FAULT", kind: KindData, estop: true},
		{name: "estop line", line: "VIB:ESTOP,140,6.600,ESTOP", kind: KindEStop, estop: true},
		{name: "boot", line: "VIB:BOOT,1.0.0-alpha", kind: KindBoot},
		{name: "status", line: "VIB:STATUS,10,1000,0,6.600,1.020,OK", kind: KindStatus},
		{name: "short data", line: "VIB:DATA,1,2,3", wantErr: ErrMalformed},
		{name: "bad float", line: "VIB:DATA,120,x,0,0,0,0,0,0,OK", wantErr: ErrMalformed},
		{name: "bad status", line: "VIB:DATA,120,0,0,0,0,0,0,0,LOUD", wantErr: ErrMalformed},
		{name: "unknown kind", line: "VIB:NOPE,1", wantErr: ErrMalformed},
		{name: "noise", line: "hello from pico", wantErr: ErrNotProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind)
			assert.Equal(t, tt.estop, msg.EStop())
		})
	}
}

func TestDataLineReadsBack(t *testing.T) {
	rec := vibration.Record{
		Sample: vibration.Sample{
			Time:       2500 * time.Millisecond,
			Calibrated: vibration.Reading{Accel: vibration.Vec3{X: 1, Y: 2, Z: 3}, Gyro: vibration.Vec3{Z: -4}},
			Magnitude:  3.742,
		},
		Severity: vibration.Warning,
	}
	msg, err := Parse(FormatData(rec))
	require.NoError(t, err)
	require.NotNil(t, msg.Data)
	assert.Equal(t, int64(2500), msg.Data.TimestampMS)
	assert.Equal(t, vibration.Vec3{X: 1, Y: 2, Z: 3}, msg.Data.Accel)
	assert.Equal(t, -4.0, msg.Data.Gyro.Z)
	assert.Equal(t, vibration.Warning, msg.Data.Status)
}

func TestFormatInfoLines(t *testing.T) {
	assert.Equal(t, "VIB:BOOT,1.0.0-alpha", FormatBoot("1.0.0-alpha"))
	assert.Equal(t, "VIB:HEADER,timestamp,ax,ay,az,gx,gy,gz,mag,status", FormatHeader())
	assert.Equal(t, "VIB:ESTOP,1500,6.512,ESTOP", FormatEStop(1500*time.Millisecond, 6.5123, vibration.Emergency))
	assert.Equal(t, "VIB:STATUS,61,6100,2,6.500,1.100,WARNING", FormatStatus(Status{
		Uptime: 61500 * time.Millisecond, Received: 6100, Dropped: 2, Peak: 6.5, RMS: 1.1, Severity: vibration.Warning,
	}))
	assert.Equal(t, "FAULT", StatusToken(vibration.SensorFault))
}
