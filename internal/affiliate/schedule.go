package affiliate

import "time"

// NextPayoutDate returns the first due date after from for schedule.
//
// Weekly and biweekly advance by calendar days, monthly lands on the first
// of the following month and quarterly adds three calendar months, clamping
// the day to the end of a shorter month (Nov 30 -> Feb 28).
func NextPayoutDate(schedule PayoutSchedule, from time.Time) time.Time {
	return dueDate(schedule, from, 1)
}

// NextPayoutAfter returns the earliest due date of a schedule anchored at
// anchor that falls strictly after now.
func NextPayoutAfter(schedule PayoutSchedule, anchor, now time.Time) time.Time {
	k := estimatePeriods(schedule, anchor, now) - 1
	if k < 1 {
		k = 1
	}
	for {
		due := dueDate(schedule, anchor, k)
		if due.After(now) {
			return due
		}
		k++
	}
}

// AddMonthsClamped adds n calendar months, keeping the day of month when
// the target month has it and using the month's last day otherwise.
func AddMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// dueDate is the k-th due date (k >= 1) of a schedule anchored at anchor.
func dueDate(schedule PayoutSchedule, anchor time.Time, k int) time.Time {
	switch schedule {
	case ScheduleWeekly:
		return anchor.AddDate(0, 0, 7*k)
	case ScheduleBiweekly:
		return anchor.AddDate(0, 0, 14*k)
	case ScheduleQuarterly:
		return AddMonthsClamped(anchor, 3*k)
	default:
		y, m, _ := anchor.Date()
		return time.Date(y, m+time.Month(k), 1, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
	}
}

func estimatePeriods(schedule PayoutSchedule, anchor, now time.Time) int {
	if !now.After(anchor) {
		return 0
	}
	days := int(now.Sub(anchor).Hours() / 24)
	months := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	switch schedule {
	case ScheduleWeekly:
		return days / 7
	case ScheduleBiweekly:
		return days / 14
	case ScheduleQuarterly:
		return months / 3
	default:
		return months
	}
}
