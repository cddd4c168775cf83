// Package distance provides the distance and similarity kernels used by the
// vector indexes. It supports the euclidean, cosine and dot product metrics
// over float32, float16 and quantized int8 vectors.
//
// Internally every kernel returns a value where smaller means closer:
// squared euclidean distance, or 1 - similarity for cosine and dot product.
// Score converts an internal distance back to the metric's native
// orientation for reporting.
package distance

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

// Metric identifies how vector proximity is computed.
type Metric string

// PrecisionType identifies the storage representation of indexed vectors.
type PrecisionType string

const (
	// Euclidean reports the L2 distance between vectors. Lower is better.
	Euclidean Metric = "euclidean"
	// Cosine reports the cosine similarity in [-1, 1]. Higher is better.
	Cosine Metric = "cosine"
	// DotProduct reports the raw inner product. Higher is better.
	DotProduct Metric = "dot_product"

	// Float32 stores vectors as single-precision floats.
	Float32 PrecisionType = "float32"
	// Float16 stores vectors as half-precision bit patterns.
	Float16 PrecisionType = "float16"
	// Int8 stores vectors quantized to 8-bit signed integers.
	Int8 PrecisionType = "int8"
)

// ErrInvalidMetric is returned when a metric name is not recognized.
var ErrInvalidMetric = errors.New("invalid distance metric")

// ErrInvalidPrecision is returned when a precision name is not recognized.
var ErrInvalidPrecision = errors.New("invalid precision")

// ParseMetric validates a metric name coming from config or the API.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case Euclidean, Cosine, DotProduct:
		return Metric(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMetric, s)
}

// ParsePrecision validates a precision name. An empty string selects float32.
func ParsePrecision(s string) (PrecisionType, error) {
	switch PrecisionType(s) {
	case "":
		return Float32, nil
	case Float32, Float16, Int8:
		return PrecisionType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPrecision, s)
}

// HigherIsBetter reports whether larger scores mean closer vectors.
func HigherIsBetter(m Metric) bool {
	return m == Cosine || m == DotProduct
}

// Score converts an internal distance into the metric's native orientation:
// the L2 distance for euclidean, the similarity for cosine and dot product.
func Score(m Metric, internal float64) float64 {
	switch m {
	case Euclidean:
		return math.Sqrt(internal)
	default:
		return 1.0 - internal
	}
}

// ToInternal converts a native score back into an internal distance. It is
// the inverse of Score and is used when re-ranking imported data.
func ToInternal(m Metric, score float64) float64 {
	switch m {
	case Euclidean:
		return score * score
	default:
		return 1.0 - score
	}
}

// DistanceFuncF32 computes the internal distance between two float32 vectors.
type DistanceFuncF32 func(a, b []float32) (float64, error)

// DistanceFuncF16 computes the internal distance between two float16 vectors
// given as raw bit patterns.
type DistanceFuncF16 func(a, b []uint16) (float64, error)

// DistanceFuncI8 computes the raw integer accumulation between two int8
// vectors: the dot product for cosine/dot, the squared difference sum for
// euclidean. The caller applies the quantizer scale.
type DistanceFuncI8 func(a, b []int8) (int32, error)

func init() {
	// Gonum's BLAS kernels dispatch to SIMD internally; they only pay off
	// when the hardware actually has wide vector units.
	if cpuid.CPU.Has(cpuid.AVX2) || cpuid.CPU.Has(cpuid.ASIMD) {
		float32Funcs[Euclidean] = squaredEuclideanBLAS
		float32Funcs[Cosine] = cosineDistanceBLAS
		float32Funcs[DotProduct] = dotDistanceBLAS
		slog.Debug("distance kernels: gonum BLAS", "avx2", cpuid.CPU.Has(cpuid.AVX2))
	} else {
		slog.Debug("distance kernels: pure go fallback")
	}
}

// workspace pools the scratch slice used by the BLAS euclidean kernel so the
// hot path stays allocation free.
var workspace = sync.Pool{
	New: func() any {
		s := make([]float32, 1536)
		return &s
	},
}

var blasEngine = gonum.Implementation{}

var errLengthMismatch = errors.New("vectors must have the same length")

// --- float32 kernels ---

func squaredEuclideanGo(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float64(sum), nil
}

func squaredEuclideanBLAS(a, b []float32) (float64, error) {
	n := len(a)
	if n != len(b) {
		return 0, errLengthMismatch
	}
	diffPtr := workspace.Get().(*[]float32)
	defer workspace.Put(diffPtr)
	if cap(*diffPtr) < n {
		*diffPtr = make([]float32, n)
	}
	diff := (*diffPtr)[:n]

	copy(diff, a)
	blasEngine.Saxpy(n, -1, b, 1, diff, 1)
	return float64(blasEngine.Sdot(n, diff, 1, diff, 1)), nil
}

func cosineDistanceGo(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1.0, nil // similarity 0 when either vector has zero magnitude
	}
	sim := float64(dot) / (math.Sqrt(float64(na)) * math.Sqrt(float64(nb)))
	return 1.0 - sim, nil
}

func cosineDistanceBLAS(a, b []float32) (float64, error) {
	n := len(a)
	if n != len(b) {
		return 0, errLengthMismatch
	}
	na := blasEngine.Snrm2(n, a, 1)
	nb := blasEngine.Snrm2(n, b, 1)
	if na == 0 || nb == 0 {
		return 1.0, nil
	}
	dot := blasEngine.Sdot(n, a, 1, b, 1)
	return 1.0 - float64(dot)/(float64(na)*float64(nb)), nil
}

func dotDistanceGo(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1.0 - float64(dot), nil
}

func dotDistanceBLAS(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	return 1.0 - float64(blasEngine.Sdot(len(a), a, 1, b, 1)), nil
}

// --- float16 kernels ---
// Half-precision vectors are expanded pairwise; no scratch copy is needed.

func squaredEuclideanF16(a, b []uint16) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var sum float32
	for i := range a {
		d := float16.Frombits(a[i]).Float32() - float16.Frombits(b[i]).Float32()
		sum += d * d
	}
	return float64(sum), nil
}

func cosineDistanceF16(a, b []uint16) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var dot, na, nb float32
	for i := range a {
		x := float16.Frombits(a[i]).Float32()
		y := float16.Frombits(b[i]).Float32()
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1.0, nil
	}
	sim := float64(dot) / (math.Sqrt(float64(na)) * math.Sqrt(float64(nb)))
	return 1.0 - sim, nil
}

func dotDistanceF16(a, b []uint16) (float64, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var dot float32
	for i := range a {
		dot += float16.Frombits(a[i]).Float32() * float16.Frombits(b[i]).Float32()
	}
	return 1.0 - float64(dot), nil
}

// --- int8 kernels ---

func dotInt8(a, b []int8) (int32, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var sum int32
	for i := range a {
		sum += int32(a[i]) * int32(b[i])
	}
	return sum, nil
}

func squaredEuclideanInt8(a, b []int8) (int32, error) {
	if len(a) != len(b) {
		return 0, errLengthMismatch
	}
	var sum int32
	for i := range a {
		d := int32(a[i]) - int32(b[i])
		sum += d * d
	}
	return sum, nil
}

// --- function catalogs ---

var float32Funcs = map[Metric]DistanceFuncF32{
	Euclidean:  squaredEuclideanGo,
	Cosine:     cosineDistanceGo,
	DotProduct: dotDistanceGo,
}

var float16Funcs = map[Metric]DistanceFuncF16{
	Euclidean:  squaredEuclideanF16,
	Cosine:     cosineDistanceF16,
	DotProduct: dotDistanceF16,
}

var int8Funcs = map[Metric]DistanceFuncI8{
	Euclidean:  squaredEuclideanInt8,
	Cosine:     dotInt8,
	DotProduct: dotInt8,
}

// GetFloat32Func returns the float32 kernel for the given metric.
func GetFloat32Func(metric Metric) (DistanceFuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric %q not supported for float32 precision", metric)
	}
	return fn, nil
}

// GetFloat16Func returns the float16 kernel for the given metric.
func GetFloat16Func(metric Metric) (DistanceFuncF16, error) {
	fn, ok := float16Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric %q not supported for float16 precision", metric)
	}
	return fn, nil
}

// GetInt8Func returns the int8 kernel for the given metric.
func GetInt8Func(metric Metric) (DistanceFuncI8, error) {
	fn, ok := int8Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric %q not supported for int8 precision", metric)
	}
	return fn, nil
}

// Similarity computes the metric's native value directly from two float32
// vectors. It is the reporting-side companion of the internal kernels.
func Similarity(m Metric, a, b []float32) (float64, error) {
	fn, err := GetFloat32Func(m)
	if err != nil {
		return 0, err
	}
	d, err := fn(a, b)
	if err != nil {
		return 0, err
	}
	return Score(m, d), nil
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) {
	var norm float32
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(norm)))
	for i := range v {
		v[i] *= inv
	}
}
