package scorer

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	revenueLowPerPoint  = 80
	revenueHighPerPoint = 120
	currencySymbol      = "₹"
)

// RevenueRange returns the monthly revenue bounds, in rupees, that a fully
// converted lead of the given score is expected to bring in.
func RevenueRange(score int) (low, high int) {
	return score * revenueLowPerPoint, score * revenueHighPerPoint
}

var revenuePrinter = message.NewPrinter(language.English)

// FormatRevenue renders RevenueRange as "₹4,000-6,000/mo".
func FormatRevenue(score int) string {
	low, high := RevenueRange(score)
	return revenuePrinter.Sprintf("%s%d-%d/mo", currencySymbol, low, high)
}
