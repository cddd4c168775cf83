package hnsw

import "math"

// maxLayer caps the level a node can be assigned to. With the default level
// multiplier the odds of drawing anything near this are negligible; the cap
// only guards against a pathological RNG draw.
const maxLayer = 16

// Config holds the tunable parameters of the graph.
type Config struct {
	// M is the maximum number of connections per node on layers above 0.
	M int `json:"m"`
	// M0 is the maximum number of connections on the base layer.
	// Zero means 2*M.
	M0 int `json:"m0"`
	// EfConstruction is the beam width used while inserting.
	EfConstruction int `json:"ef_construction"`
	// EfSearch is the default beam width used while searching. Individual
	// searches may override it.
	EfSearch int `json:"ef_search"`
	// Seed fixes the level RNG so graph builds are reproducible.
	// Zero picks a random seed.
	Seed uint64 `json:"seed,omitempty"`
}

// DefaultConfig returns the balanced parameter set.
func DefaultConfig() Config {
	return Config{
		M:              16,
		EfConstruction: 200,
		EfSearch:       100,
	}
}

// FastConfig trades recall for build and query speed.
func FastConfig() Config {
	return Config{
		M:              8,
		EfConstruction: 100,
		EfSearch:       50,
	}
}

// HighQualityConfig trades speed for recall.
func HighQualityConfig() Config {
	return Config{
		M:              32,
		EfConstruction: 400,
		EfSearch:       200,
	}
}

// withDefaults fills in unset fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.M <= 0 {
		c.M = d.M
	}
	if c.M0 <= 0 {
		c.M0 = c.M * 2
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = d.EfConstruction
	}
	if c.EfSearch <= 0 {
		c.EfSearch = d.EfSearch
	}
	return c
}

// levelMultiplier is the normalization factor of the level distribution,
// 1/ln(M).
func (c Config) levelMultiplier() float64 {
	return 1.0 / math.Log(float64(c.M))
}

// Equal reports whether two configs describe the same graph parameters.
// Seeds are ignored: they affect construction order, not semantics.
func (c Config) Equal(other Config) bool {
	a, b := c.withDefaults(), other.withDefaults()
	return a.M == b.M && a.M0 == b.M0 &&
		a.EfConstruction == b.EfConstruction && a.EfSearch == b.EfSearch
}
