package protocol

// Result is the outcome of an invocation: a value or an error, never both,
// plus response attachments.
type Result interface {
	Value() interface{}
	Error() error
	Attachments() map[string]string
	Attachment(key string) string
	SetAttachment(key, value string)
}

// RPCResult is the standard Result carrier.
type RPCResult struct {
	val    interface{}
	err    error
	attach map[string]string
}

// NewResult wraps a successful value.
func NewResult(value interface{}) *RPCResult {
	return &RPCResult{val: value, attach: map[string]string{}}
}

// NewErrorResult wraps a failure.
func NewErrorResult(err error) *RPCResult {
	return &RPCResult{err: err, attach: map[string]string{}}
}

// Value returns the success value; nil on failure.
func (r *RPCResult) Value() interface{} { return r.val }

// Error returns the failure; nil on success.
func (r *RPCResult) Error() error { return r.err }

// Attachments returns the response attachment map.
func (r *RPCResult) Attachments() map[string]string { return r.attach }

// Attachment returns one response attachment, empty when absent.
func (r *RPCResult) Attachment(key string) string { return r.attach[key] }

// SetAttachment stamps one response attachment.
func (r *RPCResult) SetAttachment(key, value string) { r.attach[key] = value }
