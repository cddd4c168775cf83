package distance

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/x448/float16"
)

func floatsAreEqual(a, b float64) bool {
	const tolerance = 1e-4
	return math.Abs(a-b) < tolerance
}

func TestParseMetric(t *testing.T) {
	for _, name := range []string{"euclidean", "cosine", "dot_product"} {
		if _, err := ParseMetric(name); err != nil {
			t.Errorf("ParseMetric(%q) failed: %v", name, err)
		}
	}
	if _, err := ParseMetric("manhattan"); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestEuclideanF32(t *testing.T) {
	fn, _ := GetFloat32Func(Euclidean)
	// 3-4-5 triangle: internal distance is squared, the score takes the root.
	v1, v2 := []float32{0, 0}, []float32{3, 4}
	d, err := fn(v1, v2)
	if err != nil {
		t.Fatal(err)
	}
	if !floatsAreEqual(d, 25.0) {
		t.Errorf("internal distance: got %f, want 25", d)
	}
	if !floatsAreEqual(Score(Euclidean, d), 5.0) {
		t.Errorf("score: got %f, want 5", Score(Euclidean, d))
	}
}

func TestCosineF32(t *testing.T) {
	fn, _ := GetFloat32Func(Cosine)

	cases := []struct {
		name   string
		v1, v2 []float32
		sim    float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 2}, 0.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := fn(tc.v1, tc.v2)
			if err != nil {
				t.Fatal(err)
			}
			if !floatsAreEqual(Score(Cosine, d), tc.sim) {
				t.Errorf("got similarity %f, want %f", Score(Cosine, d), tc.sim)
			}
		})
	}
}

func TestDotProductF32(t *testing.T) {
	fn, _ := GetFloat32Func(DotProduct)
	v1, v2 := []float32{1, 2, 3}, []float32{4, 5, 6}
	d, err := fn(v1, v2)
	if err != nil {
		t.Fatal(err)
	}
	if !floatsAreEqual(Score(DotProduct, d), 32.0) {
		t.Errorf("got %f, want 32", Score(DotProduct, d))
	}
}

func TestLengthMismatch(t *testing.T) {
	for _, m := range []Metric{Euclidean, Cosine, DotProduct} {
		fn, _ := GetFloat32Func(m)
		if _, err := fn([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
			t.Errorf("%s: expected length mismatch error", m)
		}
	}
}

func TestEuclideanF16(t *testing.T) {
	fn, _ := GetFloat16Func(Euclidean)
	v1f, v2f := []float32{1, 2}, []float32{3, 4}
	v1 := make([]uint16, len(v1f))
	v2 := make([]uint16, len(v2f))
	for i := range v1f {
		v1[i] = float16.Fromfloat32(v1f[i]).Bits()
		v2[i] = float16.Fromfloat32(v2f[i]).Bits()
	}
	d, err := fn(v1, v2)
	if err != nil {
		t.Fatal(err)
	}
	if !floatsAreEqual(d, 8.0) {
		t.Errorf("got %f, want 8", d)
	}
}

func TestInt8Kernels(t *testing.T) {
	dot, _ := GetInt8Func(DotProduct)
	got, err := dot([]int8{10, 20}, []int8{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got != 80 {
		t.Errorf("dot: got %d, want 80", got)
	}

	euc, _ := GetInt8Func(Euclidean)
	got, err = euc([]int8{1, 2}, []int8{3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("euclidean: got %d, want 8", got)
	}
}

func TestScoreRoundTrip(t *testing.T) {
	for _, m := range []Metric{Euclidean, Cosine, DotProduct} {
		for _, v := range []float64{0, 0.25, 1, 4} {
			if got := ToInternal(m, Score(m, v)); !floatsAreEqual(got, v) {
				t.Errorf("%s: round trip of %f gave %f", m, v, got)
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if !floatsAreEqual(norm, 1.0) {
		t.Errorf("norm after Normalize: got %f, want 1", norm)
	}

	zero := []float32{0, 0}
	Normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Error("zero vector should be left untouched")
	}
}

func TestQuantizerRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vectors := make([][]float32, 100)
	for i := range vectors {
		vec := make([]float32, 32)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		vectors[i] = vec
	}

	q := &Quantizer{}
	q.Train(vectors)
	if q.AbsMax <= 0 {
		t.Fatalf("AbsMax not trained: %f", q.AbsMax)
	}

	original := vectors[0]
	restored := q.Dequantize(q.Quantize(original))
	for i := range original {
		if math.Abs(float64(original[i]-restored[i])) > float64(q.Scale())*1.5 {
			t.Errorf("element %d: %f restored as %f", i, original[i], restored[i])
		}
	}
}

func BenchmarkFloat32(b *testing.B) {
	dims := []int{64, 128, 256, 512, 1024}
	for _, d := range dims {
		v1 := make([]float32, d)
		v2 := make([]float32, d)
		for i := 0; i < d; i++ {
			v1[i] = rand.Float32()
			v2[i] = rand.Float32()
		}
		for _, m := range []Metric{Euclidean, Cosine, DotProduct} {
			fn, _ := GetFloat32Func(m)
			b.Run(fmt.Sprintf("%s_%dD", m, d), func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					fn(v1, v2)
				}
			})
		}
	}
}
