// Package clock — источник текущего времени, подменяемый в тестах.
package clock

import "time"

// Clock возвращает текущее время.
type Clock func() time.Time

// System — часы процесса.
func System() Clock { return time.Now }

// InLocation возвращает часы, отдающие время в таймзоне loc.
func InLocation(loc *time.Location) Clock {
	if loc == nil {
		return time.Now
	}
	return func() time.Time { return time.Now().In(loc) }
}

// Fixed возвращает часы, которые всегда показывают t. Удобно в тестах.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}
