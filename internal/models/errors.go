package models

import "errors"

var (
	ErrEmptyDocument     = errors.New("no text extracted from the uploaded document")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrInvalidSubject    = errors.New("invalid subject name")
	ErrCorruptSubject    = errors.New("subject chunk store and vector index are out of alignment")
	ErrNoSubjectsDir     = errors.New("subjects directory not found")
	ErrEmptyTask         = errors.New("task can't be empty")
)
