package plan

import "github.com/google/uuid"

// NewID generates a fresh plan identifier, used when a caller submits a
// plan without an id of its own.
func NewID() string {
	return "plan-" + uuid.New().String()
}
