package ivr

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ones  = []string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"}
	teens = []string{"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen"}
	tens  = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety"}
)

// speakAmount renders a dollar amount as words, e.g. "twenty five dollars and fifty cents".
// Fractions of a cent are truncated.
func speakAmount(amount decimal.Decimal) string {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	dollars := amount.IntPart()
	cents := amount.Sub(decimal.NewFromInt(dollars)).Shift(2).IntPart()

	spoken := numberToWords(dollars) + " dollars"
	if cents == 0 {
		return spoken
	}
	return spoken + " and " + numberToWords(cents) + " cents"
}

func numberToWords(n int64) string {
	switch {
	case n < 10:
		return ones[n]
	case n < 20:
		return teens[n-10]
	case n < 100:
		if n%10 == 0 {
			return tens[n/10]
		}
		return tens[n/10] + " " + ones[n%10]
	case n < 1000:
		if n%100 == 0 {
			return ones[n/100] + " hundred"
		}
		return ones[n/100] + " hundred " + numberToWords(n%100)
	case n < 1000000:
		if n%1000 == 0 {
			return numberToWords(n/1000) + " thousand"
		}
		return numberToWords(n/1000) + " thousand " + numberToWords(n%1000)
	default:
		return decimal.NewFromInt(n).String()
	}
}

// spellDigits reads digits one at a time: "0042" becomes "0 0 4 2".
func spellDigits(digits string) string {
	return strings.Join(strings.Split(digits, ""), " ")
}
