package ledger

import "time"

// The platform counts affinity days in Beijing time regardless of where the
// bot runs, so day keys and rollover detection use this zone.
var beijing = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

// Now returns the current time in the platform's accounting timezone.
func Now() time.Time { return time.Now().In(beijing) }

// DayKey formats t as the platform-local calendar day.
func DayKey(t time.Time) string {
	return t.In(beijing).Format("2006-01-02")
}
