package metrics

import "time"

// QuotaReservationGranted records a successful reservation.
func QuotaReservationGranted(op string) {
	QuotaReservationsTotal.WithLabelValues(op, "granted").Inc()
}

// QuotaReservationDenied records a denied reservation with its reason.
func QuotaReservationDenied(op, reason string) {
	QuotaReservationsTotal.WithLabelValues(op, reason).Inc()
}

// SMSSent records a successful send.
func SMSSent(kind string) {
	SMSSendsTotal.WithLabelValues(kind, "sent").Inc()
}

// SMSFailed records a failed send.
func SMSFailed(kind string) {
	SMSSendsTotal.WithLabelValues(kind, "failed").Inc()
}

// BatchCompleted records a finished bulk send.
func BatchCompleted(duration time.Duration) {
	BatchesTotal.WithLabelValues("completed").Inc()
	BatchDuration.Observe(duration.Seconds())
}

// BatchFailed records an aborted bulk send.
func BatchFailed() {
	BatchesTotal.WithLabelValues("failed").Inc()
}

// WebhookEvent records one webhook delivery outcome.
func WebhookEvent(eventType, result string) {
	WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}
