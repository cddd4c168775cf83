package distance

import (
	"math"
	"sort"
)

// Quantizer holds the parameters for symmetric scalar quantization of
// float32 vectors into the int8 range [-127, 127].
type Quantizer struct {
	AbsMax float32
}

// Train derives the quantization range from a sample of vectors. It uses the
// 99.9th percentile of absolute values instead of the true maximum so a few
// outliers cannot collapse the useful resolution of the int8 range.
func (q *Quantizer) Train(vectors [][]float32) {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return
	}

	absValues := make([]float32, 0, len(vectors)*len(vectors[0]))
	for _, vec := range vectors {
		for _, val := range vec {
			absValues = append(absValues, float32(math.Abs(float64(val))))
		}
	}

	sort.Slice(absValues, func(i, j int) bool {
		return absValues[i] < absValues[j]
	})

	idx := int(float64(len(absValues)) * 0.999)
	if idx >= len(absValues) {
		idx = len(absValues) - 1
	}
	q.AbsMax = absValues[idx]
}

// Scale returns the float value represented by one quantization step.
func (q *Quantizer) Scale() float32 {
	return q.AbsMax / 127.0
}

// Quantize converts a float32 vector to int8, clipping values outside the
// trained range.
func (q *Quantizer) Quantize(vector []float32) []int8 {
	if q.AbsMax == 0 {
		return make([]int8, len(vector))
	}

	out := make([]int8, len(vector))
	for i, val := range vector {
		scaled := (val / q.AbsMax) * 127.0
		if scaled > 127.0 {
			scaled = 127.0
		} else if scaled < -127.0 {
			scaled = -127.0
		}
		out[i] = int8(math.Round(float64(scaled)))
	}
	return out
}

// Dequantize converts an int8 vector back to an approximate float32 vector.
// The round trip is lossy.
func (q *Quantizer) Dequantize(vector []int8) []float32 {
	out := make([]float32, len(vector))
	if q.AbsMax == 0 {
		return out
	}
	for i, val := range vector {
		out[i] = (float32(val) / 127.0) * q.AbsMax
	}
	return out
}
