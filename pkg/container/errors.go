package container

import (
	"errors"
	"fmt"
)

// ErrPodLimit is returned when the runtime refuses to create further pods.
var ErrPodLimit = errors.New("pod limit reached")

// NotFoundError is returned for operations on an unknown or already cleaned
// up container.
type NotFoundError struct {
	ContainerID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("container %s not found", e.ContainerID)
}

// IsNotFound reports whether err indicates a missing container.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
