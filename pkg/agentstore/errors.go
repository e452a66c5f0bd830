package agentstore

import "fmt"

// Error wraps a failed store operation with the agent id and operation name
// that failed, in the vein of the fleet core's other structured errors.
type Error struct {
	Operation string
	AgentID   string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agentstore: %s(%s): %s: %v", e.Operation, e.AgentID, e.Message, e.Err)
	}
	return fmt.Sprintf("agentstore: %s(%s): %s", e.Operation, e.AgentID, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op, id, msg string, err error) *Error {
	return &Error{Operation: op, AgentID: id, Message: msg, Err: err}
}

// ErrNotFound reports that no agent exists with the given id.
func ErrNotFound(op, id string) *Error {
	return newError(op, id, "agent not found", nil)
}
