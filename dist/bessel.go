package dist

import "math"

// besselI0 evaluates the modified Bessel function of the first kind, order 0.
//
// Uses the Abramowitz & Stegun rational approximations (9.8.1)/(9.8.2): a
// polynomial in (x/3.75)^2 below 3.75, and a scaled asymptotic polynomial in
// 3.75/x above. The canopy library this module is modeled on leans on Eigen
// and Boost for the corresponding solve; neither is available here, and no
// library in the retrieval pack exposes modified Bessel functions, so this
// is a direct port of the textbook approximation.
func besselI0(x float64) float64 {
	ax := math.Abs(x)
	if ax < 3.75 {
		t := x / 3.75
		t2 := t * t
		return 1.0 + t2*(3.5156229+t2*(3.0899424+t2*(1.2067492+
			t2*(0.2659732+t2*(0.0360768+t2*0.0045813)))))
	}
	t := 3.75 / ax
	poly := 0.39894228 + t*(0.01328592+t*(0.00225319+t*(-0.00157565+
		t*(0.00916281+t*(-0.02057706+t*(0.02635537+t*(-0.01647633+t*0.00392377)))))))
	return (math.Exp(ax) / math.Sqrt(ax)) * poly
}

// besselI1 evaluates the modified Bessel function of the first kind, order 1,
// via the same family of approximations (A&S 9.8.3/9.8.4).
func besselI1(x float64) float64 {
	ax := math.Abs(x)
	var result float64
	if ax < 3.75 {
		t := x / 3.75
		t2 := t * t
		poly := 0.5 + t2*(0.87890594+t2*(0.51498869+t2*(0.15084934+
			t2*(0.02658733+t2*(0.00301532+t2*0.00032411)))))
		result = ax * poly
	} else {
		t := 3.75 / ax
		poly := 0.39894228 + t*(-0.03988024+t*(-0.00362018+t*(0.00163801+
			t*(-0.01031555+t*(0.02282967+t*(-0.02895312+t*(0.01787654+t*(-0.00420059))))))))
		result = (math.Exp(ax) / math.Sqrt(ax)) * poly
	}
	if x < 0 {
		return -result
	}
	return result
}

// solveKappa finds kappa such that besselI1(kappa)/besselI0(kappa) == rbar,
// starting from the initial guess of 25 used by the original library's
// non-linear solver. Newton's method on f(k) = I1(k) - rbar*I0(k), falling
// back to bisection if a step ever produces a non-finite value; either
// algorithm satisfies spec.md's "any correct monotonic root-finder" clause.
func solveKappa(rbar float64) float64 {
	if rbar <= 0 {
		return 0
	}

	k := 25.0
	for i := 0; i < 50; i++ {
		i0 := besselI0(k)
		i1 := besselI1(k)
		f := i1 - rbar*i0
		// f'(k) = I1'(k) - rbar*I0'(k); I0'=I1, I1'=I0 - I1/k
		df := (i0 - i1/k) - rbar*i1
		if df == 0 {
			break
		}
		next := k - f/df
		if !isFiniteAndPositive(next) {
			break
		}
		if math.Abs(next-k) < 1e-9 {
			return next
		}
		k = next
	}

	return bisectKappa(rbar, k)
}

func isFiniteAndPositive(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
}

func bisectKappa(rbar, seed float64) float64 {
	lo, hi := 1e-6, seed
	if hi <= lo {
		hi = 50.0
	}
	for besselI1(hi)/besselI0(hi) < rbar && hi < 1e6 {
		hi *= 2
	}

	for i := 0; i < 100; i++ {
		mid := 0.5 * (lo + hi)
		if besselI1(mid)/besselI0(mid) < rbar {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}
