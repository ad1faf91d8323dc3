package ins

import (
	"math"

	"gonum.org/v1/gonum/mat"
	. "nyiyui.ca/hato/fmu"
)

// navFilter is a linear Kalman filter over NED position and velocity,
// driven by earth-frame acceleration.
type navFilter struct {
	x *mat.VecDense
	p *mat.Dense
	// accelNoise is the process noise standard deviation in m/s².
	accelNoise float64
}

const navStates = 6

func newNavFilter(accelNoise, posVar, velVar float64) *navFilter {
	n := &navFilter{
		x:          mat.NewVecDense(navStates, nil),
		p:          mat.NewDense(navStates, navStates, nil),
		accelNoise: accelNoise,
	}
	for i := 0; i < 3; i++ {
		n.p.Set(i, i, posVar)
		n.p.Set(i+3, i+3, velVar)
	}
	return n
}

func (n *navFilter) pos() Vec3 { return Vec3{X: n.x.AtVec(0), Y: n.x.AtVec(1), Z: n.x.AtVec(2)} }

func (n *navFilter) vel() Vec3 { return Vec3{X: n.x.AtVec(3), Y: n.x.AtVec(4), Z: n.x.AtVec(5)} }

func (n *navFilter) posVar() Vec3 { return Vec3{X: n.p.At(0, 0), Y: n.p.At(1, 1), Z: n.p.At(2, 2)} }

func (n *navFilter) velVar() Vec3 { return Vec3{X: n.p.At(3, 3), Y: n.p.At(4, 4), Z: n.p.At(5, 5)} }

// predict advances the state by dt seconds. noiseScale inflates the process
// noise while the acceleration input is unavailable.
func (n *navFilter) predict(acc Vec3, dt, noiseScale float64) {
	a := [3]float64{acc.X, acc.Y, acc.Z}
	for i := 0; i < 3; i++ {
		p, v := n.x.AtVec(i), n.x.AtVec(i+3)
		n.x.SetVec(i, p+v*dt+0.5*a[i]*dt*dt)
		n.x.SetVec(i+3, v+a[i]*dt)
	}

	f := mat.NewDense(navStates, navStates, nil)
	for i := 0; i < navStates; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		f.Set(i, i+3, dt)
	}
	var fp, fpf mat.Dense
	fp.Mul(f, n.p)
	fpf.Mul(&fp, f.T())

	q := n.accelNoise * noiseScale
	q *= q
	for i := 0; i < 3; i++ {
		fpf.Set(i, i, fpf.At(i, i)+dt*dt*dt*dt/4*q)
		fpf.Set(i, i+3, fpf.At(i, i+3)+dt*dt*dt/2*q)
		fpf.Set(i+3, i, fpf.At(i+3, i)+dt*dt*dt/2*q)
		fpf.Set(i+3, i+3, fpf.At(i+3, i+3)+dt*dt*q)
	}
	n.p = &fpf
}

type updateResult struct {
	// NIS is the normalized innovation squared.
	NIS      float64
	Rejected bool
	// Forced is set when the measurement failed the gate but was applied anyway.
	Forced  bool
	Clamped bool
	DPos    Vec3
	DVel    Vec3
}

// update applies measurement z = Hx + v with diagonal noise r.
// Measurements whose NIS exceeds gate² per dimension are rejected unless force
// is set. The applied state step is limited to maxPos and maxVel; the rest of
// the innovation stays for later updates, and the covariance shrinks only by
// what was applied.
func (n *navFilter) update(h *mat.Dense, z, r []float64, gate float64, force bool, maxPos, maxVel float64) (res updateResult) {
	m, _ := h.Dims()
	y := mat.NewVecDense(m, nil)
	y.MulVec(h, n.x)
	y.SubVec(mat.NewVecDense(m, z), y)

	var ph, s mat.Dense
	ph.Mul(n.p, h.T())
	s.Mul(h, &ph)
	for i := 0; i < m; i++ {
		s.Set(i, i, s.At(i, i)+r[i])
	}
	var sInv mat.Dense
	err := sInv.Inverse(&s)
	if err != nil {
		var c mat.Condition
		if !asCondition(err, &c) {
			res.Rejected = true
			return
		}
	}

	var siy mat.VecDense
	siy.MulVec(&sInv, y)
	res.NIS = mat.Dot(y, &siy)
	if gate > 0 && res.NIS > gate*gate*float64(m) {
		if !force {
			res.Rejected = true
			return
		}
		res.Forced = true
	}

	var k mat.Dense
	k.Mul(&ph, &sInv)
	var dx mat.VecDense
	dx.MulVec(&k, y)

	dPos := Vec3{X: dx.AtVec(0), Y: dx.AtVec(1), Z: dx.AtVec(2)}
	dVel := Vec3{X: dx.AtVec(3), Y: dx.AtVec(4), Z: dx.AtVec(5)}
	// A clamped step applies only part of the gain, and the covariance
	// update below must use that same reduced gain.
	if norm := dPos.Norm(); norm > maxPos {
		dPos = dPos.ClampNorm(maxPos)
		scaleRows(&k, 0, maxPos/norm)
		res.Clamped = true
	}
	if norm := dVel.Norm(); norm > maxVel {
		dVel = dVel.ClampNorm(maxVel)
		scaleRows(&k, 3, maxVel/norm)
		res.Clamped = true
	}
	n.x.SetVec(0, n.x.AtVec(0)+dPos.X)
	n.x.SetVec(1, n.x.AtVec(1)+dPos.Y)
	n.x.SetVec(2, n.x.AtVec(2)+dPos.Z)
	n.x.SetVec(3, n.x.AtVec(3)+dVel.X)
	n.x.SetVec(4, n.x.AtVec(4)+dVel.Y)
	n.x.SetVec(5, n.x.AtVec(5)+dVel.Z)
	res.DPos, res.DVel = dPos, dVel

	// Joseph form keeps P symmetric positive definite.
	ikh := mat.NewDense(navStates, navStates, nil)
	ikh.Mul(&k, h)
	ikh.Scale(-1, ikh)
	for i := 0; i < navStates; i++ {
		ikh.Set(i, i, ikh.At(i, i)+1)
	}
	var a, apa mat.Dense
	a.Mul(ikh, n.p)
	apa.Mul(&a, ikh.T())
	rm := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		rm.Set(i, i, r[i])
	}
	var kr, krk mat.Dense
	kr.Mul(&k, rm)
	krk.Mul(&kr, k.T())
	apa.Add(&apa, &krk)
	symmetrize(&apa)
	n.p = &apa
	return
}

// setPos moves the position states without touching the covariance.
func (n *navFilter) setPos(p Vec3) {
	n.x.SetVec(0, p.X)
	n.x.SetVec(1, p.Y)
	n.x.SetVec(2, p.Z)
}

// inflatePos widens the position variance so the next update pulls harder.
func (n *navFilter) inflatePos(v float64) {
	for i := 0; i < 3; i++ {
		n.p.Set(i, i, math.Max(n.p.At(i, i), v))
	}
}

// scaleRows scales the three gain rows starting at row by f.
func scaleRows(k *mat.Dense, row int, f float64) {
	_, c := k.Dims()
	for i := row; i < row+3; i++ {
		for j := 0; j < c; j++ {
			k.Set(i, j, k.At(i, j)*f)
		}
	}
}

func symmetrize(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}

// asCondition reports whether err is only gonum's ill-conditioning warning.
func asCondition(err error, c *mat.Condition) bool {
	cond, ok := err.(mat.Condition)
	if ok {
		*c = cond
	}
	return ok
}

func gpsH() *mat.Dense {
	h := mat.NewDense(navStates, navStates, nil)
	for i := 0; i < navStates; i++ {
		h.Set(i, i, 1)
	}
	return h
}

func downH() *mat.Dense {
	return mat.NewDense(1, navStates, []float64{0, 0, 1, 0, 0, 0})
}
