// internal/service/ads/application/calendar.go
package application

import (
	"time"

	"adengine/internal/service/ads/domain"
)

// Calendar 提供当前时间与 "今天" 的判定时区
type Calendar struct {
	Now      func() time.Time
	Location *time.Location
}

func SystemCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Now: time.Now, Location: loc}
}

func (c Calendar) now() time.Time {
	if c.Now == nil {
		return time.Now().In(c.loc())
	}
	return c.Now().In(c.loc())
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// dayStart 返回 t 所在自然日的零点
func (c Calendar) dayStart(t time.Time) time.Time {
	return domain.Day(t.In(c.loc()))
}
