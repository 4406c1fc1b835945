package monitoring

// PaymentStatus labels the payment counter.
type PaymentStatus string

const (
	// PaymentSent counts payments we originated that were settled.
	PaymentSent PaymentStatus = "sent"

	// PaymentFailed counts payments we originated that failed.
	PaymentFailed PaymentStatus = "failed"

	// PaymentReceived counts HTLCs settled to one of our invoices.
	PaymentReceived PaymentStatus = "received"
)
