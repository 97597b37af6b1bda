package dist

import (
	"bufio"
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// kappaSaturationRbar is the R-bar threshold above which the kappa
// root-find is considered ill-conditioned and kappa is clamped instead.
const kappaSaturationRbar = 0.98

// kappaSaturationValue is the clamp value used when R-bar exceeds the
// saturation threshold.
const kappaSaturationValue = 25.0

// kappaOverflowValue and kappaOverflowNorm are the clamp values used when
// I0(kappa) would overflow during Normalise.
const (
	kappaOverflowValue = 500.0
	kappaOverflowNorm  = 6.35397e-217
)

// VonMisesDist is a circular probability distribution over angles in
// [-pi, pi], parameterised by mean direction mu and concentration kappa. It
// serves as both the node and output distribution for the circular
// regressor specialization.
type VonMisesDist struct {
	mu, kappa float64
	s, c      float64 // accumulators: sum of sin/cos, or fused sensor vectors
	norm      float64
}

// NewVonMisesDist returns a distribution at its reset state (mu=kappa=0,
// norm=1).
func NewVonMisesDist() *VonMisesDist {
	return &VonMisesDist{norm: 1.0}
}

// Reset restores the distribution to its initial state.
func (v *VonMisesDist) Reset() {
	v.mu, v.kappa, v.s, v.c = 0, 0, 0, 0
	v.norm = 1.0
}

// Fit estimates mu and kappa from a set of angular labels (radians).
//
//	S = sum sin(l), C = sum cos(l), mu = atan2(S, C), Rbar = sqrt(S^2+C^2)/N.
//
// If Rbar > 0.98 the kappa root-find is ill-conditioned and kappa is clamped
// to 25; otherwise kappa solves I1(kappa)/I0(kappa) = Rbar via Newton's
// method seeded at 25 (dist.bessel.go).
func (v *VonMisesDist) Fit(labels []float64) {
	var s, c float64
	for _, l := range labels {
		s += math.Sin(l)
		c += math.Cos(l)
	}

	n := float64(len(labels))
	v.mu = math.Atan2(s, c)

	rbar := math.Sqrt(s*s+c*c) / n

	if rbar > kappaSaturationRbar {
		logrus.WithField("rbar", rbar).Debug("von Mises fit: R-bar saturated, clamping kappa to 25")
		v.kappa = kappaSaturationValue
	} else {
		v.kappa = solveKappa(rbar)
	}

	v.norm = 1.0 / (2.0 * math.Pi * besselI0(v.kappa))
	// S/C are re-derived from mu/kappa so that a freshly fitted distribution
	// combines identically to one that was written out and read back in.
	v.s = math.Sin(v.mu)
	v.c = math.Cos(v.mu)
}

// Pdf returns the von Mises density at angle x.
func (v *VonMisesDist) Pdf(x float64) float64 {
	return v.norm * math.Exp(v.kappa*math.Cos(x-v.mu))
}

// Combine performs sensor fusion: treats the other distribution's (mu,
// kappa) as a vector of length kappa in direction mu, and adds that vector
// to this distribution's running sum.
func (v *VonMisesDist) Combine(other *VonMisesDist) {
	v.s += other.kappa * math.Sin(other.mu)
	v.c += other.kappa * math.Cos(other.mu)
}

// Normalise derives mu and kappa from the accumulated sensor-fusion vector.
// If I0(kappa) would overflow, kappa is clamped to 500 with a pre-chosen
// tiny normaliser rather than surfacing an error.
func (v *VonMisesDist) Normalise() {
	v.mu = math.Atan2(v.s, v.c)
	v.kappa = math.Hypot(v.s, v.c)

	i0 := besselI0(v.kappa)
	if math.IsInf(i0, 0) || math.IsNaN(i0) {
		logrus.WithField("kappa", v.kappa).Debug("von Mises normalise: I0 overflow, clamping kappa to 500")
		v.kappa = kappaOverflowValue
		v.norm = kappaOverflowNorm
		return
	}
	v.norm = 1.0 / (2.0 * math.Pi * i0)
}

// Mu returns the fitted mean direction.
func (v *VonMisesDist) Mu() float64 { return v.mu }

// Kappa returns the fitted concentration parameter.
func (v *VonMisesDist) Kappa() float64 { return v.kappa }

// WriteTo serializes the distribution as "mu kappa".
func (v *VonMisesDist) WriteTo(w *bufio.Writer) error {
	_, err := w.WriteString(strconv.FormatFloat(v.mu, 'g', -1, 64) + " " +
		strconv.FormatFloat(v.kappa, 'g', -1, 64))
	return errors.Wrap(err, "writing von Mises distribution")
}

// ReadFrom parses "mu kappa" and reconstitutes S, C, and the pdf normaliser.
func (v *VonMisesDist) ReadFrom(r *bufio.Reader) error {
	muTok, err := readToken(r)
	if err != nil {
		return errors.Wrap(err, "reading von Mises mu")
	}
	mu, err := strconv.ParseFloat(muTok, 64)
	if err != nil {
		return errors.Wrap(err, "parsing von Mises mu")
	}

	kappaTok, err := readToken(r)
	if err != nil {
		return errors.Wrap(err, "reading von Mises kappa")
	}
	kappa, err := strconv.ParseFloat(kappaTok, 64)
	if err != nil {
		return errors.Wrap(err, "parsing von Mises kappa")
	}

	v.mu = mu
	v.kappa = kappa
	v.s = math.Sin(mu)
	v.c = math.Cos(mu)
	v.norm = 1.0 / (2.0 * math.Pi * besselI0(kappa))
	return nil
}

// String renders the distribution for debugging.
func (v *VonMisesDist) String() string {
	return fmt.Sprintf("VonMisesDist(mu=%.4f, kappa=%.4f)", v.mu, v.kappa)
}
