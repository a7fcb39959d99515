// Package idgen centralizes id generation so every package that needs a
// run id, branch id, or delegation id goes through one place.
package idgen

import "github.com/google/uuid"

// New returns a random UUID (v4) as its canonical string form.
func New() string {
	return uuid.NewString()
}
