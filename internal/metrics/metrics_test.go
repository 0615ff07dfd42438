package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		ObserveHTTP("create_booking", "201", 15*time.Millisecond)
		IncSweep("ok")
		IncSeatCache("hit")
		IncNotification("log", "sent")
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(bookingAttempts.WithLabelValues("conflict"))
	IncBookingAttempt("conflict")
	IncBookingAttempt("conflict")
	assert.Equal(t, before+2, testutil.ToFloat64(bookingAttempts.WithLabelValues("conflict")))

	before = testutil.ToFloat64(cascadeSteps.WithLabelValues("refund", "failed"))
	IncCascadeStep("refund", "failed")
	assert.Equal(t, before+1, testutil.ToFloat64(cascadeSteps.WithLabelValues("refund", "failed")))

	before = testutil.ToFloat64(bookingTransitions.WithLabelValues("payment_completed"))
	IncTransition("payment_completed")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingTransitions.WithLabelValues("payment_completed")))
}
