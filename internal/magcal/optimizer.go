package magcal

import (
	"math"

	"github.com/relabs-tech/magnet_tracker/internal/geomag"
	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// Optimizer tuning. The iteration bound and clamps keep the worst-case
// cost proportional to the pair buffer, so the run is safe inline on the
// sample-processing path.
const (
	optOffsetStepUT  = 0.1  // central-difference step for offset params
	optMatrixStep    = 1e-3 // central-difference step for matrix params
	optOffsetRate    = 0.05
	optMatrixRate    = 5e-4
	optGradientClip  = 10.0
	optDiagMin       = 0.5
	optDiagMax       = 2.0
	optOffDiagLimit  = 0.5
	optMinImprovement = 1e-6
)

// ironParams is an immutable 12-parameter snapshot: hard-iron offset plus
// the full soft-iron matrix. Each descent iteration produces a fresh
// snapshot; nothing is mutated in place.
type ironParams struct {
	Offset vec.Vector3
	Matrix vec.Matrix3
}

// OptimizeResult reports one orientation-aware refinement run.
type OptimizeResult struct {
	Ran         bool    `json:"ran"`
	Reason      string  `json:"reason,omitempty"`
	Iterations  int     `json:"iterations"`
	InitialCost float64 `json:"initial_cost"`
	FinalCost   float64 `json:"final_cost"`
}

// Reason codes for refinement runs that did not execute.
const (
	ReasonNoReference    = "no_geomagnetic_reference"
	ReasonBufferNotFull  = "pair_buffer_not_full"
	ReasonAlreadyRefined = "already_ran"
)

// RefineWithOrientation runs the orientation-aware batch optimizer once per
// session: bounded-iteration numerical gradient descent over the 12 iron
// parameters, minimizing the squared residual between the tilt-compensated
// corrected magnetometer and the geomagnetically expected field. The
// best-seen parameters are kept even when the final iterate is worse, so
// the result is never worse than the starting min/max estimate.
func (c *IronCalibrator) RefineWithOrientation() OptimizeResult {
	if c.optimizeRan {
		return OptimizeResult{Reason: ReasonAlreadyRefined}
	}
	if !c.hasRef {
		return OptimizeResult{Reason: ReasonNoReference}
	}
	if !c.OrientationBufferFull() {
		return OptimizeResult{Reason: ReasonBufferNotFull}
	}
	c.optimizeRan = true

	start := c.startingParams()
	ref := *c.ref

	best := start
	bestCost := refinementCost(start, c.pairs, ref)
	initial := bestCost

	cur := start
	curCost := bestCost
	iterations := 0

	for i := 0; i < c.cfg.OptimizerMaxIterations; i++ {
		iterations = i + 1

		grad := refinementGradient(cur, c.pairs, ref)
		next := applyGradient(cur, grad)
		nextCost := refinementCost(next, c.pairs, ref)

		if nextCost < bestCost {
			best = next
			bestCost = nextCost
		}

		if curCost-nextCost < optMinImprovement*math.Max(curCost, 1) {
			cur, curCost = next, nextCost
			break
		}
		cur, curCost = next, nextCost
	}

	if bestCost < initial {
		c.refinedOff = best.Offset
		c.refinedMat = best.Matrix
		if c.calibratedWizard {
			// Refinement of an existing wizard calibration replaces it at
			// the same priority level.
			c.wizardOffset = best.Offset
			c.wizardMatrix = best.Matrix
			c.wizardHasMatrix = true
		} else {
			c.refined = true
		}
	}

	return OptimizeResult{
		Ran:         true,
		Iterations:  iterations,
		InitialCost: initial,
		FinalCost:   bestCost,
	}
}

// startingParams seeds the descent from the current effective correction,
// so refinement can only improve on what the session already has.
func (c *IronCalibrator) startingParams() ironParams {
	offset, m, hasMatrix, mode := c.effective()
	if mode == modeUncalibrated {
		offset = c.autoEstimate
		m = vec.Identity()
		hasMatrix = true
	}
	if !hasMatrix {
		m = vec.Identity()
	}
	return ironParams{Offset: offset, Matrix: m}
}

// refinementCost sums the squared field residual over the pair buffer.
// For each pair: correct the magnetometer with the candidate parameters,
// level it using the accelerometer roll/pitch, then compare the horizontal
// magnitude and vertical component with the geomagnetic reference (yaw is
// taken from the magnetometer itself, so only magnitude and dip are
// constrained).
func refinementCost(p ironParams, pairs []pairedSample, ref geomag.Reference) float64 {
	var cost float64
	for _, pair := range pairs {
		lh, lv := leveledField(p, pair)
		dh := lh - ref.HorizontalUT
		dv := lv - ref.VerticalUT
		cost += dh*dh + dv*dv
	}
	return cost / float64(len(pairs))
}

// leveledField corrects pair.Mag with p and rotates it into the leveled
// (roll/pitch compensated) frame, returning the horizontal magnitude and
// vertical component in µT.
func leveledField(p ironParams, pair pairedSample) (horizontal, vertical float64) {
	corrected := p.Matrix.MulVec(pair.Mag.Sub(p.Offset))

	a := pair.Accel
	roll := math.Atan2(a.Y, a.Z)
	pitch := math.Atan2(-a.X, math.Sqrt(a.Y*a.Y+a.Z*a.Z))

	sr, cr := math.Sincos(roll)
	sp, cp := math.Sincos(pitch)

	lx := corrected.X*cp + corrected.Y*sr*sp + corrected.Z*cr*sp
	ly := corrected.Y*cr - corrected.Z*sr
	lz := -corrected.X*sp + corrected.Y*sr*cp + corrected.Z*cr*cp

	return math.Hypot(lx, ly), lz
}

// refinementGradient computes the cost gradient by central differences
// over all 12 parameters, clipped component-wise.
func refinementGradient(p ironParams, pairs []pairedSample, ref geomag.Reference) [12]float64 {
	var grad [12]float64

	for i := 0; i < 3; i++ {
		plus := perturbOffset(p, i, optOffsetStepUT)
		minus := perturbOffset(p, i, -optOffsetStepUT)
		g := (refinementCost(plus, pairs, ref) - refinementCost(minus, pairs, ref)) / (2 * optOffsetStepUT)
		grad[i] = clip(g, optGradientClip)
	}
	for i := 0; i < 9; i++ {
		plus := perturbMatrix(p, i, optMatrixStep)
		minus := perturbMatrix(p, i, -optMatrixStep)
		g := (refinementCost(plus, pairs, ref) - refinementCost(minus, pairs, ref)) / (2 * optMatrixStep)
		grad[3+i] = clip(g, optGradientClip)
	}
	return grad
}

func perturbOffset(p ironParams, axis int, delta float64) ironParams {
	switch axis {
	case 0:
		p.Offset.X += delta
	case 1:
		p.Offset.Y += delta
	default:
		p.Offset.Z += delta
	}
	return p
}

func perturbMatrix(p ironParams, idx int, delta float64) ironParams {
	p.Matrix[idx] += delta
	return p
}

// applyGradient takes a descent step and clamps the matrix into its
// regularization box: diagonal in [0.5,2.0], off-diagonal in [-0.5,0.5].
func applyGradient(p ironParams, grad [12]float64) ironParams {
	next := p
	next.Offset.X -= optOffsetRate * grad[0]
	next.Offset.Y -= optOffsetRate * grad[1]
	next.Offset.Z -= optOffsetRate * grad[2]

	for i := 0; i < 9; i++ {
		next.Matrix[i] -= optMatrixRate * grad[3+i]
	}
	for _, d := range [3]int{0, 4, 8} {
		next.Matrix[d] = clampRange(next.Matrix[d], optDiagMin, optDiagMax)
	}
	for _, o := range [6]int{1, 2, 3, 5, 6, 7} {
		next.Matrix[o] = clampRange(next.Matrix[o], -optOffDiagLimit, optOffDiagLimit)
	}
	return next
}

func clip(v, limit float64) float64 {
	return clampRange(v, -limit, limit)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
