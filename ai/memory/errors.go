package memory

import "github.com/pkg/errors"

// ErrEmbeddingUnavailable marks a failure of the embedding backend. It is
// never folded into an empty result set: callers must be able to distinguish
// "nothing matched" from "search could not run".
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// embeddingUnavailable wraps err into the ErrEmbeddingUnavailable chain.
func embeddingUnavailable(err error) error {
	return errors.WithMessage(ErrEmbeddingUnavailable, err.Error())
}

// IsEmbeddingUnavailable reports whether err stems from the embedding backend.
func IsEmbeddingUnavailable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable)
}
