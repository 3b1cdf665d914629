package store

import "errors"

var (
	// ErrDuplicateJob is returned by Enqueue when a job with the same id
	// already exists. The existing job is left unchanged.
	ErrDuplicateJob = errors.New("job id already exists")

	// ErrJobNotFound is returned by point operations on an unknown id.
	ErrJobNotFound = errors.New("job not found")
)
