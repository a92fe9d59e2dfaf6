// Package coordinator tracks which pipeline stages are currently running so
// the fetcher can hand work off to consumers and consumers know when to stop.
//
// A RunState is constructed once by the binary and passed to every task; it
// is safe for concurrent use.
package coordinator

import "sync/atomic"

// RunState holds the running flags of the fetch, classify and vectorize stages.
type RunState struct {
	fetcher    atomic.Bool
	classifier atomic.Bool
	vectorizer atomic.Bool
}

// Snapshot is a point-in-time copy of the flags.
type Snapshot struct {
	Fetcher    bool `json:"fetcher_running"`
	Classifier bool `json:"classifier_running"`
	Vectorizer bool `json:"vectorizer_running"`
}

// New returns a RunState with every flag cleared.
func New() *RunState {
	return &RunState{}
}

// FetcherRunning reports whether an issue fetch pass is in progress.
func (s *RunState) FetcherRunning() bool { return s.fetcher.Load() }

// SetFetcherRunning sets the fetcher flag.
func (s *RunState) SetFetcherRunning(v bool) { s.fetcher.Store(v) }

// ClassifierRunning reports whether a classify loop is active or requested.
func (s *RunState) ClassifierRunning() bool { return s.classifier.Load() }

// SetClassifierRunning sets the classifier flag.
func (s *RunState) SetClassifierRunning(v bool) { s.classifier.Store(v) }

// TryClaimClassifier flips the classifier flag from false to true and reports
// whether this caller won. Producers use it so that at most one classify task
// is requested per idle period.
func (s *RunState) TryClaimClassifier() bool { return s.classifier.CompareAndSwap(false, true) }

// VectorizerRunning reports whether a vectorize loop is active or requested.
func (s *RunState) VectorizerRunning() bool { return s.vectorizer.Load() }

// SetVectorizerRunning sets the vectorizer flag.
func (s *RunState) SetVectorizerRunning(v bool) { s.vectorizer.Store(v) }

// TryClaimVectorizer is the vectorizer counterpart of TryClaimClassifier.
func (s *RunState) TryClaimVectorizer() bool { return s.vectorizer.CompareAndSwap(false, true) }

// Snapshot copies the current flags.
func (s *RunState) Snapshot() Snapshot {
	return Snapshot{
		Fetcher:    s.fetcher.Load(),
		Classifier: s.classifier.Load(),
		Vectorizer: s.vectorizer.Load(),
	}
}

// Reset clears every flag.
func (s *RunState) Reset() {
	s.fetcher.Store(false)
	s.classifier.Store(false)
	s.vectorizer.Store(false)
}

// ShouldContinue is the consumer loop predicate. processed is the number of
// items handled by the last pass and producerWasRunning is the producer flag
// sampled before that pass started. Sampling first guarantees that anything a
// finished producer stored was visible to the pass that saw it idle.
func ShouldContinue(processed int, producerWasRunning bool) bool {
	return processed > 0 || producerWasRunning
}
