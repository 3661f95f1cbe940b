package core

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/mission-engine/model"
)

// r1 is a frame rotation about the first axis.
func r1(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, c, s, 0, -s, c})
}

// r3 is a frame rotation about the third axis.
func r3(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{c, s, 0, -s, c, 0, 0, 0, 1})
}

// planeToECI maps a vector expressed in the orbital plane (x toward the
// ascending node) into the inertial frame: R3(-raan) * R1(-inc) * v.
func planeToECI(raan, inc float64, v model.Vec3) model.Vec3 {
	var rot mat.Dense
	rot.Mul(r3(-raan), r1(-inc))

	var out mat.VecDense
	out.MulVec(&rot, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return model.Vec3{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}
