package domain

import "fmt"

// SourceFetchError marks a per-source fetch failure. Non-fatal: the run
// proceeds with zero records from that source.
type SourceFetchError struct {
	Source Source
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// NormalizationError marks a single raw record that could not be
// normalized. Non-fatal: the record is excluded and counted.
type NormalizationError struct {
	Source Source
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s record: %s", e.Source, e.Reason)
}

// EnrichmentError marks a failed summary generation for one record; the
// pipeline falls back to the rendered article.
type EnrichmentError struct {
	Identity string
	Err      error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrich %s: %v", e.Identity, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// PublishError marks a failed draft creation. The record stays unmarked
// and remains eligible for a future run.
type PublishError struct {
	Identity string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Identity, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// StateLoadError is fatal: starting from silently-empty state risks
// duplicate publishing.
type StateLoadError struct {
	Err error
}

func (e *StateLoadError) Error() string {
	return fmt.Sprintf("load state: %v", e.Err)
}

func (e *StateLoadError) Unwrap() error { return e.Err }

// StatePersistError is fatal: an unpersisted store would let a future run
// re-publish already-posted items.
type StatePersistError struct {
	Err error
}

func (e *StatePersistError) Error() string {
	return fmt.Sprintf("persist state: %v", e.Err)
}

func (e *StatePersistError) Unwrap() error { return e.Err }
