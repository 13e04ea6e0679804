package pipeline

// Rejection is a message-recoverable failure. Reason is safe to relay
// to the sender in an error frame; the connection stays open.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}
