package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidDocument       = errors.New("invalid document")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrBuildValidation       = errors.New("build validation failed")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrCacheUnavailable      = errors.New("cache unavailable")
	ErrNoActiveGeneration    = errors.New("no active index generation")
	ErrBudgetExceeded        = errors.New("prompt template exceeds token budget")
)

// BuildValidationError lists every reason a built generation was rejected.
type BuildValidationError struct {
	Generation uint64
	Reasons    []string
}

func (e *BuildValidationError) Error() string {
	return fmt.Sprintf("generation %d: %s", e.Generation, strings.Join(e.Reasons, "; "))
}

func (e *BuildValidationError) Unwrap() error {
	return ErrBuildValidation
}
