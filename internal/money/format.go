package money

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var italian = message.NewPrinter(language.Italian)

// FormatEUR renders cents as an Italian-locale euro string, e.g.
// "€ 1.234,56". Negative amounts keep the minus after the symbol.
func FormatEUR(c Cents) string {
	units := float64(c.Abs()) / 100
	if c < 0 {
		return italian.Sprintf("€ -%.2f", units)
	}
	return italian.Sprintf("€ %.2f", units)
}
