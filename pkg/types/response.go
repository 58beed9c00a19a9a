package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// CaptureResult is the JSON body returned by the capture endpoint. Retry is
// set when the processor declined the instrument and the client may resubmit
// with a different funding source.
type CaptureResult struct {
	Success       bool   `json:"success"`
	OrderID       string `json:"order_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Status        string `json:"status,omitempty"`
	Retry         bool   `json:"retry,omitempty"`
	Message       string `json:"message,omitempty"`
}
