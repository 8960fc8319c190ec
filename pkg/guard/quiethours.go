package guard

import (
	"time"

	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

// inAppChannel is the only channel a suppressed (non-urgent, quiet-hours)
// notification is still allowed to reach.
const inAppChannel = "in_app"

// QuietHoursCheck reports the channel an emission should actually use: the
// requested channel unless the contact has quiet hours configured, it is
// currently within them, and urgency is not urgent — in which case the
// emission is downgraded to the in-app channel only.
func QuietHoursCheck(contact *models.Contact, now time.Time, urgency models.NotificationUrgency, requestedChannel string) string {
	if urgency == models.NotificationUrgencyUrgent {
		return requestedChannel
	}
	if contact == nil || contact.QuietHoursStart == nil || contact.QuietHoursEnd == nil {
		return requestedChannel
	}

	loc := time.UTC
	if contact.Timezone != "" {
		if parsed, err := time.LoadLocation(contact.Timezone); err == nil {
			loc = parsed
		}
	}
	local := now.In(loc)
	minutesSinceMidnight := local.Hour()*60 + local.Minute()

	if !withinQuietHours(*contact.QuietHoursStart, *contact.QuietHoursEnd, minutesSinceMidnight) {
		return requestedChannel
	}
	return inAppChannel
}

// withinQuietHours reports whether minute falls within [start, end),
// handling the wrap-around case where quiet hours span midnight
// (e.g. start=1320 "22:00", end=420 "07:00").
func withinQuietHours(start, end, minute int) bool {
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}
