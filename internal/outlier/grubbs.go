package outlier

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// minGrubbsSamples is the smallest series the test is applied to. With two
// samples the t distribution has zero degrees of freedom.
const minGrubbsSamples = 3

// grubbsOutliers runs the iterative two-sided Grubbs' test and returns the
// input indices of the removed samples in the order they were removed.
func grubbsOutliers(values []float64, alpha float64) []int {
	if len(values) < minGrubbsSamples {
		return nil
	}

	// idx maps positions in remaining back to positions in values.
	remaining := append([]float64(nil), values...)
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}

	var removed []int
	for len(remaining) >= minGrubbsSamples {
		mean, sd := stat.MeanStdDev(remaining, nil)
		if sd == 0 || math.IsNaN(sd) {
			break
		}

		candidate, g := mostExtreme(remaining, mean, sd)
		if g <= CriticalValue(len(remaining), alpha) {
			break
		}

		removed = append(removed, idx[candidate])
		remaining = append(remaining[:candidate], remaining[candidate+1:]...)
		idx = append(idx[:candidate], idx[candidate+1:]...)
	}
	return removed
}

// mostExtreme returns the position and Grubbs' statistic of the sample
// furthest from the mean. Ties resolve to the lowest position.
func mostExtreme(values []float64, mean, sd float64) (int, float64) {
	candidate, g := 0, -1.0
	for i, v := range values {
		if d := math.Abs(v-mean) / sd; d > g {
			candidate, g = i, d
		}
	}
	return candidate, g
}

// CriticalValue returns the two-sided Grubbs' critical value for n samples at
// significance alpha:
//
//	G = (n-1)/sqrt(n) * sqrt(t^2 / (n-2+t^2))
//
// where t is the upper alpha/(2n) quantile of Student's t distribution with
// n-2 degrees of freedom. The quantile is evaluated exactly through the
// inverse regularized incomplete beta function rather than a lookup table,
// so any n >= 3 is supported. For n < 3 it returns +Inf.
func CriticalValue(n int, alpha float64) float64 {
	if n < minGrubbsSamples {
		return math.Inf(1)
	}
	fn := float64(n)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: fn - 2}.Quantile(1 - alpha/(2*fn))
	t2 := t * t
	return (fn - 1) / math.Sqrt(fn) * math.Sqrt(t2/(fn-2+t2))
}
