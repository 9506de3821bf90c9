package model

import (
	"fmt"
	"strings"
)

// Region is a probe location code.
type Region string

// regions is the closed set of known probe locations.
var regions = []Region{
	"ams", "arn", "atl", "bog", "bom", "bos", "cdg", "den", "dfw", "ewr",
	"eze", "fra", "gdl", "gig", "gru", "hkg", "iad", "jnb", "lax", "lhr",
	"mad", "mia", "nrt", "ord", "otp", "phx", "qro", "scl", "sea", "sin",
	"sjc", "syd", "waw", "yul", "yyz",
}

var regionSet = func() map[Region]struct{} {
	m := make(map[Region]struct{}, len(regions))
	for _, r := range regions {
		m[r] = struct{}{}
	}
	return m
}()

// Valid reports whether r is a known region.
func (r Region) Valid() bool {
	_, ok := regionSet[r]
	return ok
}

// ParseRegion normalizes s and checks it against the known set.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRegion, s)
	}
	return r, nil
}
