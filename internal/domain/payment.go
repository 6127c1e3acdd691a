package domain

// RemoteOrder is the gateway's own order record. Its JSON shape follows the
// gateway's order entity so clients can hand it straight to checkout.
type RemoteOrder struct {
	ID       string            `json:"id"`
	Entity   string            `json:"entity"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type RemotePaymentStatus string

const (
	RemotePaymentCreated    RemotePaymentStatus = "created"
	RemotePaymentAuthorized RemotePaymentStatus = "authorized"
	RemotePaymentCaptured   RemotePaymentStatus = "captured"
	RemotePaymentFailed     RemotePaymentStatus = "failed"
)

// RemotePayment is a payment attempt the gateway recorded against a remote order.
type RemotePayment struct {
	ID      string
	OrderID string
	Status  RemotePaymentStatus
}

// PaymentCallback is what the gateway hands back after checkout.
type PaymentCallback struct {
	RemoteOrderID  string
	PaymentID      string
	Signature      string
	CourseID       string
	IdempotencyKey string
}
