// Package idgen generates short, URL-safe identifiers for reconciliation runs.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// RunPrefix marks reconciliation run IDs in logs and published events.
const RunPrefix = "rc-"

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 10
)

// Run returns a new run ID.
func Run() (string, error) {
	return WithPrefix(RunPrefix)
}

func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
