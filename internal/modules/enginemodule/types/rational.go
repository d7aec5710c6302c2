// Package types defines the data model shared by the engine: titles, jobs,
// buffers, geometry, state snapshots and the work object contracts.
package types

import "fmt"

// TicksPerSecond is the clock rate of every timestamp in the engine.
const TicksPerSecond = 90000

// Rational is a num/den pair used for frame rates and pixel aspect ratios.
type Rational struct {
	Num int `json:"num"`
	Den int `json:"den"`
}

// Valid reports whether both terms are positive.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Reduce returns r in lowest terms. Invalid values come back unchanged.
func (r Rational) Reduce() Rational {
	if !r.Valid() {
		return r
	}
	g := GCD(r.Num, r.Den)
	return Rational{Num: r.Num / g, Den: r.Den / g}
}

// Float returns r as a float64, or 0 when r is invalid.
func (r Rational) Float() float64 {
	if !r.Valid() {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// GCD returns the greatest common divisor of two non-negative integers.
func GCD(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// ReduceInt64 reduces a 64-bit fraction and returns it as a Rational.
// Terms that still overflow int after reduction are scaled down.
func ReduceInt64(num, den int64) Rational {
	if num <= 0 || den <= 0 {
		return Rational{}
	}
	a, b := num, den
	for b != 0 {
		a, b = b, a%b
	}
	num, den = num/a, den/a
	for num > 1<<31 || den > 1<<31 {
		num, den = num>>1, den>>1
	}
	if den == 0 {
		den = 1
	}
	return Rational{Num: int(num), Den: int(den)}
}
