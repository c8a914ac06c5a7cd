// Package wad implements 1e18 fixed-point arithmetic on big integers. The
// rent accumulator and per-position debt are stored at wad precision so
// rounding loss per claim stays below one unit of the payment asset.
package wad

import "math/big"

// Scale is the fixed-point denominator (1e18).
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Zero returns a fresh zero value, never a shared instance.
func Zero() *big.Int { return new(big.Int) }

// FromUnits scales an integer amount up to wad precision: amount * 1e18.
func FromUnits(amount *big.Int) *big.Int {
	return new(big.Int).Mul(amount, Scale)
}

// Div divides two integers at wad precision: a * 1e18 / b. Division truncates
// toward zero; the caller keeps the remainder as dust.
func Div(a, b *big.Int) *big.Int {
	return new(big.Int).Quo(FromUnits(a), b)
}

// MulDown multiplies an amount by a wad factor and scales back down:
// amount * w / 1e18, truncated.
func MulDown(amount, w *big.Int) *big.Int {
	return new(big.Int).Quo(new(big.Int).Mul(amount, w), Scale)
}

// IsPositive reports whether a is strictly greater than zero.
func IsPositive(a *big.Int) bool { return a != nil && a.Sign() > 0 }
