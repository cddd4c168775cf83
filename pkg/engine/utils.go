package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// float32SliceToString renders a vector as a space-separated string for AOF
// serialization. FormatFloat with precision -1 emits the shortest decimal
// that round-trips the exact float32 value.
func float32SliceToString(slice []float32) string {
	var b strings.Builder
	for i, v := range slice {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	return b.String()
}

// parseVectorFromString is the inverse of float32SliceToString, used during
// AOF replay.
func parseVectorFromString(s string) ([]float32, error) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return nil, fmt.Errorf("vector string is empty")
	}
	vector := make([]float32, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(part, 32)
		if err != nil {
			return nil, err
		}
		vector[i] = float32(val)
	}
	return vector, nil
}
