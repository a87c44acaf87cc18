package physics

import (
	"github.com/grimm-is/icsrange/internal/fabric"
)

// Line is one transmission line in the static admittance topology.
type Line struct {
	ID        string
	FromBus   string
	ToBus     string
	Reactance float64 // per-unit reactance X; admittance = 1/X
	RatingMW  float64
}

// LineFlow is the solved per-line result.
type LineFlow struct {
	Line     Line
	FlowMW   float64
	Overload bool
}

// Bus is one injection point: a generator (positive injection) or load
// (negative), read from a device's telemetry each solve.
type Bus struct {
	Name          string
	GenDevice     string // device whose power_mw input register is +injection, if any
	LoadDeviceReg struct {
		Device string
		Index  uint16
	}
}

// PowerFlowSolver implements the linear DC power-flow approximation of
// §4.3.5: given bus injections and a static line admittance map, it
// solves theta = B^-1 * P once per tick (rebuilding B only when the line
// topology itself changes) and derives per-line MW flows and overloads.
type PowerFlowSolver struct {
	fab   *fabric.Fabric
	buses []Bus
	lines []Line

	busIndex map[string]int
	b        [][]float64 // reduced susceptance matrix (slack bus removed)
	bBuilt   bool

	flows []LineFlow
}

// NewPowerFlowSolver constructs a solver over buses and lines. B is built
// lazily on the first Solve call and cached until SetTopology is called
// again.
func NewPowerFlowSolver(fab *fabric.Fabric, buses []Bus, lines []Line) *PowerFlowSolver {
	s := &PowerFlowSolver{fab: fab}
	s.SetTopology(buses, lines)
	return s
}

// SetTopology replaces the bus/line topology and marks B for rebuild.
func (s *PowerFlowSolver) SetTopology(buses []Bus, lines []Line) {
	s.buses = buses
	s.lines = lines
	s.busIndex = make(map[string]int, len(buses))
	for i, b := range buses {
		s.busIndex[b.Name] = i
	}
	s.bBuilt = false
}

func (s *PowerFlowSolver) buildB() {
	n := len(s.buses)
	full := make([][]float64, n)
	for i := range full {
		full[i] = make([]float64, n)
	}
	for _, ln := range s.lines {
		i, iok := s.busIndex[ln.FromBus]
		j, jok := s.busIndex[ln.ToBus]
		if !iok || !jok || ln.Reactance == 0 {
			continue
		}
		y := 1.0 / ln.Reactance
		full[i][i] += y
		full[j][j] += y
		full[i][j] -= y
		full[j][i] -= y
	}
	// Drop bus 0 as the slack/reference bus (theta_0 = 0): reduce to
	// (n-1)x(n-1) by removing its row and column.
	if n <= 1 {
		s.b = nil
		s.bBuilt = true
		return
	}
	reduced := make([][]float64, n-1)
	for i := 1; i < n; i++ {
		row := make([]float64, n-1)
		for j := 1; j < n; j++ {
			row[j-1] = full[i][j]
		}
		reduced[i-1] = row
	}
	s.b = reduced
	s.bBuilt = true
}

// solveLinear solves Ax = p via Gauss-Jordan elimination with partial
// pivoting. Dimensions are small (bus count << 100), so this is adequate.
func solveLinear(a [][]float64, p []float64) []float64 {
	n := len(p)
	if n == 0 {
		return nil
	}
	m := make([][]float64, n)
	for i := range m {
		m[i] = append(append([]float64{}, a[i]...), p[i])
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if abs(m[r][col]) > abs(m[pivot][col]) {
				pivot = r
			}
		}
		m[col], m[pivot] = m[pivot], m[col]
		if m[col][col] == 0 {
			continue
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := m[r][col] / m[col][col]
			for c := col; c <= n; c++ {
				m[r][c] -= factor * m[col][c]
			}
		}
	}
	x := make([]float64, n)
	for i := 0; i < n; i++ {
		if m[i][i] != 0 {
			x[i] = m[i][n] / m[i][i]
		}
	}
	return x
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Solve reads bus injections from the fabric, solves for bus angles, and
// returns the per-line flows with overload flags set.
func (s *PowerFlowSolver) Solve() []LineFlow {
	if !s.bBuilt {
		s.buildB()
	}

	injections := make([]float64, len(s.buses))
	for i, bus := range s.buses {
		var p float64
		if bus.GenDevice != "" {
			p += float64(readWord(s.fab, bus.GenDevice, fabric.InputRegister, TurbinePowerMWReg)) / 10.0
		}
		if bus.LoadDeviceReg.Device != "" {
			p -= float64(readWord(s.fab, bus.LoadDeviceReg.Device, fabric.HoldingRegister, bus.LoadDeviceReg.Index)) / 10.0
		}
		injections[i] = p
	}

	theta := make([]float64, len(s.buses))
	if len(s.buses) > 1 && s.b != nil {
		reducedP := injections[1:]
		x := solveLinear(s.b, reducedP)
		for i, v := range x {
			theta[i+1] = v
		}
	}

	flows := make([]LineFlow, 0, len(s.lines))
	for _, ln := range s.lines {
		i, iok := s.busIndex[ln.FromBus]
		j, jok := s.busIndex[ln.ToBus]
		var mw float64
		if iok && jok && ln.Reactance != 0 {
			mw = (theta[i] - theta[j]) / ln.Reactance
		}
		flows = append(flows, LineFlow{
			Line:     ln,
			FlowMW:   mw,
			Overload: abs(mw) > ln.RatingMW,
		})
	}
	s.flows = flows
	return flows
}

// Flows returns the most recently solved line flows without resolving.
func (s *PowerFlowSolver) Flows() []LineFlow { return s.flows }

// PowerFlowIntegrator adapts a PowerFlowSolver to the Integrator interface
// so the orchestrator's tick loop can step it alongside per-device
// physics. Unlike a turbine or reactor it owns no single DeviceRecord's
// memory map (its inputs span every generator/load bus); device is a
// synthetic name used only for tick ordering and event/telemetry
// attribution.
type PowerFlowIntegrator struct {
	device string
	solver *PowerFlowSolver
}

// NewPowerFlowIntegrator wraps solver for tick-loop registration under
// the synthetic device name device.
func NewPowerFlowIntegrator(device string, solver *PowerFlowSolver) *PowerFlowIntegrator {
	return &PowerFlowIntegrator{device: device, solver: solver}
}

func (p *PowerFlowIntegrator) Device() string { return p.device }

// Update resolves the power-flow topology for the current tick. dt is
// unused: the DC approximation is a static solve over the latest bus
// injections, not an integration over time.
func (p *PowerFlowIntegrator) Update(float64) { p.solver.Solve() }

// Flows returns the most recently solved line flows.
func (p *PowerFlowIntegrator) Flows() []LineFlow { return p.solver.Flows() }
