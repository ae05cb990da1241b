package scpi

// Conn is a connection to one SCPI instrument. Commands are transmitted in
// their rendered single-line form; queries return the instrument's single-line
// response with the terminator stripped. SCPI instruments process one command
// or query at a time per connection, so a Conn is not safe for concurrent use.
type Conn interface {
	Send(cmd Command) error
	Query(cmd Command) (string, error)
	Close() error
}

// Recorder is an in-memory Conn that records every rendered command in order.
// Query responses are scripted through the Reply hook; without one, every
// query answers "0". Recorder is the backend for wire-level tests.
type Recorder struct {
	// Sent holds the rendered wire text of every command and query, in the
	// order they were issued.
	Sent []string

	// Reply, if set, produces the response (or error) for a query. The
	// argument is the rendered query text.
	Reply func(query string) (string, error)

	// SendErr, if set, is consulted for every Send; a non-nil return is
	// surfaced to the caller after the command has been recorded.
	SendErr func(cmd string) error

	closed bool
}

func (r *Recorder) Send(cmd Command) error {
	line := cmd.String()
	r.Sent = append(r.Sent, line)
	if r.SendErr != nil {
		return r.SendErr(line)
	}
	return nil
}

func (r *Recorder) Query(cmd Command) (string, error) {
	line := cmd.String()
	r.Sent = append(r.Sent, line)
	if r.Reply != nil {
		return r.Reply(line)
	}
	return "0", nil
}

func (r *Recorder) Close() error {
	r.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (r *Recorder) Closed() bool { return r.closed }

// Clear forgets all recorded commands.
func (r *Recorder) Clear() { r.Sent = nil }

// Take returns the recorded commands and clears the record, so consecutive
// phases of a test can be asserted independently.
func (r *Recorder) Take() []string {
	sent := r.Sent
	r.Sent = nil
	return sent
}
