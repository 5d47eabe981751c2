// Package idutil generates request and worker identifiers via
// github.com/hashicorp/go-uuid, the UUID dependency pulled from the
// AnatolyRugalev-go-iradix-generic pack member.
package idutil

import (
	uuid "github.com/hashicorp/go-uuid"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

// NewID returns a fresh UUIDv4 string, or an error if the system
// entropy source failed.
func NewID() (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", nexerr.Transient("idutil.NewID", err)
	}
	return id, nil
}

// MustNewID panics if id generation fails; reserved for startup paths
// where a failure already means the process cannot run.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}
