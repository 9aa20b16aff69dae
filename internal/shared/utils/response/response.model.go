package response

// StandardApiResponse is the envelope of every JSON response.
// ErrorKind is set on failures so clients can branch without parsing messages.
type StandardApiResponse struct {
	Status     string      `json:"status"` // "success" or "error"
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Errors     interface{} `json:"errors,omitempty"`
}
