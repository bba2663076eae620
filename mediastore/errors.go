// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package mediastore

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when no blob exists for a ref. The channel
// service maps it to a 404 on the media fetch endpoint.
type NotFoundError struct {
	Ref Ref
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("media %s not found", e.Ref.Short())
}

// IsNotFound reports whether err indicates a missing blob.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}
