package physics

import (
	"math"
	"math/rand"
	"sync"
)

// Reading is one tick's worth of simulated sensor output, grounded in the
// teacher's DemoProvider.RequestData sensor-derived-field style (duty cycle
// from pulse width, fan from coolant, knock gated on TPS/RPM).
type Reading struct {
	RPM         float64
	MAPKPa      float64
	TPSPct      float64
	AFR         float64
	CoolantC    float64
	IntakeTempC float64
	TorqueNm    float64
	HP          float64
	KnockCount  int
	Phase       Phase
}

// Simulator drives an Engine + VirtualECU pair forward in fixed ticks,
// producing Readings for the autotune/orchestrator loops to consume.
type Simulator struct {
	mu     sync.Mutex
	engine *Engine
	ecu    *VirtualECU
	state  State

	baroKPa   float64
	knockAcc  int
}

// NewSimulator constructs a simulator at idle.
func NewSimulator(engine *Engine, ecu *VirtualECU) *Simulator {
	return &Simulator{
		engine: engine,
		ecu:    ecu,
		state: State{
			EngineTempC: 85, IntakeTempC: 30, Phase: PhaseIdle,
		},
		baroKPa: 101,
	}
}

// StartPull begins a wide-open-throttle RPM sweep.
func (s *Simulator) StartPull() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Phase = PhasePull
	s.state.ThrottleTarget = 100
}

// StartDecel ends the current pull and begins throttle closure.
func (s *Simulator) StartDecel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Phase = PhaseDecel
	s.state.ThrottleTarget = 0
}

// Tick advances the simulator by dt seconds and returns the resulting
// Reading, using actualVE as the physically-true VE table (which may differ
// from the ECU's own VEFront belief — that gap is what autotune corrects).
func (s *Simulator) Tick(dt float64, actualVE *Table) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.StepThrottle(&s.state, dt)

	rpm := 850 + (6200-850)*s.state.ThrottleActual/100
	mapKPa := 30 + (s.state.ThrottleActual/100)*170

	ecuVE := s.ecu.LookupVE(rpm, mapKPa)
	trueVE := ecuVE
	if actualVE != nil {
		trueVE = clamp(actualVE.Interpolate(rpm, mapKPa), veClampMin, veClampMax)
	}
	targetAFR := s.ecu.LookupTargetAFR(rpm, mapKPa)
	afr := s.ecu.ResultingAFR(targetAFR, trueVE, ecuVE)

	torque := s.engine.EffectiveTorque(rpm, s.state.ThrottleActual, trueVE, s.baroKPa, &s.state)

	triggered, risk := DetectKnock(afr, targetAFR, s.state.ThrottleActual, s.state.IntakeTempC)
	s.state.KnockRisk = risk
	if triggered {
		s.knockAcc++
	}

	omega := rpm * 2 * math.Pi / 60
	s.state.AngularVelocity = omega
	drag := s.engine.params.DragCoeff * omega * omega
	brake := 0.0
	if s.state.Phase == PhaseDecel {
		brake = s.engine.params.EngineBrakeCoeff * omega
	}
	netTorque := torque - drag - brake
	hp := HorsepowerFromTorque(netTorque, omega, s.state.Phase)

	// Mild thermal drift and randomized intake temp.
	s.state.EngineTempC += (90 - s.state.EngineTempC) * 0.01
	s.state.IntakeTempC = 30 + rand.Float64()*8
	if mapKPa > 150 {
		s.state.IntakeTempC = 55 + rand.Float64()*15
	}

	return Reading{
		RPM: rpm, MAPKPa: mapKPa, TPSPct: s.state.ThrottleActual, AFR: afr,
		CoolantC: s.state.EngineTempC, IntakeTempC: s.state.IntakeTempC,
		TorqueNm: torque, HP: hp, KnockCount: s.knockAcc, Phase: s.state.Phase,
	}
}
