package claimload

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
	PercentageMultiplier    = 100
)

// Outcome statuses as returned by the service.
const (
	statusSuccess  = "success"
	statusRejected = "rejected"
	statusFailed   = "failed"
	statusPending  = "pending"
)
