// Package currency provides fixed-point money arithmetic in minor units.
//
// All monetary values on the platform are integer minor units (cents/kobo).
// Nothing in this codebase does float arithmetic on money; every add or
// subtract goes through this package.
package currency

import "fmt"

// Amount is a monetary value in minor units (e.g. 1050 = 10.50).
type Amount int64

// Add returns a + b.
func Add(a, b Amount) Amount {
	return a + b
}

// Sub returns a - b. The result may be negative.
func Sub(a, b Amount) Amount {
	return a - b
}

// SubFloor returns a - b floored at zero. Wallet balance and pending
// fields are never allowed to go negative, so debits use this.
func SubFloor(a, b Amount) Amount {
	if b >= a {
		return 0
	}
	return a - b
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// FromMajor converts whole major units plus minor remainder (e.g. 10, 50
// for 10.50) into an Amount.
func FromMajor(major, minor int64) Amount {
	return Amount(major*100 + minor)
}

// Format renders an amount as a decimal string with two fraction digits.
func Format(a Amount) string {
	neg := ""
	if a < 0 {
		neg = "-"
		a = -a
	}
	return fmt.Sprintf("%s%d.%02d", neg, a/100, a%100)
}
