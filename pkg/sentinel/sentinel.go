package sentinel

import "errors"

// ErrNotFound is the infrastructure fact that an entity does not exist in a
// store. Stores return it (optionally wrapped) and services translate it into
// a domain error; validation failures use pkg/domerrors directly.
var ErrNotFound = errors.New("not found")
