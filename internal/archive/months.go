package archive

import "time"

// YearMonth identifies one monthly archive segment.
type YearMonth struct {
	Year  int
	Month int
}

// MonthsBetween lists the year-months from then through now, inclusive.
// Archives are monthly, so a window touching one day of a month still
// covers that whole month.
func MonthsBetween(then, now time.Time) []YearMonth {
	then, now = then.UTC(), now.UTC()
	if then.After(now) {
		then = now
	}

	var months []YearMonth
	year, month := then.Year(), int(then.Month())
	for {
		months = append(months, YearMonth{Year: year, Month: month})
		if year == now.Year() && month == int(now.Month()) {
			return months
		}
		month++
		if month > 12 {
			year++
			month = 1
		}
	}
}

// MonthsBack lists the year-months covering the trailing daysBack window
// ending at now.
func MonthsBack(now time.Time, daysBack int) []YearMonth {
	return MonthsBetween(now.AddDate(0, 0, -daysBack), now)
}
