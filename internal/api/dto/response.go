package dto

// Response is the envelope every subscription/invoice endpoint returns
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewResponse(message string, data interface{}) *Response {
	return &Response{
		Success: true,
		Message: message,
		Data:    data,
	}
}

// WebhookAck is the minimal acknowledgement returned to providers
type WebhookAck struct {
	Received bool `json:"received"`
}
