package circulation

import "time"

const day = 24 * time.Hour

// DaysOverdue возвращает число полных суток между сроком возврата и моментом расчёта.
// Неполные сутки не учитываются; до срока и в момент срока результат равен нулю.
func DaysOverdue(due, at time.Time) int64 {
	if !at.After(due) {
		return 0
	}
	return int64(at.Sub(due) / day)
}

// ComputeFine вычисляет штраф в копейках за полные сутки просрочки.
func ComputeFine(due, settlement time.Time, dailyRateCents int64) int64 {
	return DaysOverdue(due, settlement) * dailyRateCents
}
