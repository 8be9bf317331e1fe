package domain

import "strconv"

// Suffix returns the English ordinal suffix for n: 1st, 2nd, 3rd, 4th,
// with 11th, 12th and 13th (and 111th, 212th, ...) taking "th".
func Suffix(n int) string {
	if n < 0 {
		n = -n
	}
	if v := n % 100; v >= 11 && v <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// Ordinal formats n with its suffix, e.g. "22nd".
func Ordinal(n int) string {
	return strconv.Itoa(n) + Suffix(n)
}
