// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/rokoter/LinuxCNC/internal/vibration"
)

// MockProfile shapes the synthetic vibration signal. A burst of BurstLen
// samples at BurstG starts every BurstEvery samples; zero BurstEvery disables
// bursts.
type MockProfile struct {
	Seed       uint64
	NoiseG     float64
	BurstEvery int
	BurstLen   int
	BurstG     float64
}

// DefaultMockProfile is a quiet spindle with a short 6.5 g burst every 10 s at
// 100 Hz.
func DefaultMockProfile() MockProfile {
	return MockProfile{Seed: 1, NoiseG: 0.05, BurstEvery: 1000, BurstLen: 8, BurstG: 6.5}
}

// MockSource is a bench-test sensor that needs no hardware.
type MockSource struct {
	mu      sync.Mutex
	profile MockProfile
	rng     *rand.Rand
	n       int
}

var _ Reader = (*MockSource)(nil)

func NewMockSource(p MockProfile) *MockSource {
	return &MockSource{
		profile: p,
		rng:     rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15)),
	}
}

// Read returns gravity on Z plus noise, or a burst aligned with X.
func (m *MockSource) Read(ctx context.Context) (vibration.Reading, error) {
	if err := ctx.Err(); err != nil {
		return vibration.Reading{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.n
	m.n++

	noise := func() float64 { return m.rng.NormFloat64() * m.profile.NoiseG }
	r := vibration.Reading{
		Accel: vibration.Vec3{X: noise(), Y: noise(), Z: 1 + noise()},
		Gyro:  vibration.Vec3{X: noise() * 10, Y: noise() * 10, Z: noise() * 10},
	}

	p := m.profile
	if p.BurstEvery > 0 && n%p.BurstEvery >= p.BurstEvery-p.BurstLen {
		// keep |a| close to BurstG with gravity still on Z
		r.Accel.X = math.Sqrt(math.Max(p.BurstG*p.BurstG-1, 0))
	}
	return r, nil
}
