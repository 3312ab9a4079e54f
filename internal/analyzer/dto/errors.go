package dto

import (
	"errors"
	"fmt"
)

// ErrEmptyWatchlist aborts a run before any work starts: without symbols there
// is nothing to analyze and the caller's configuration needs fixing.
var ErrEmptyWatchlist = errors.New("no stock codes configured: set analyzer.stock_list or pass explicit codes")

// DataFetchError marks an upstream daily-data fetch that returned nothing.
// It is non-fatal: analysis proceeds with whatever local history exists.
type DataFetchError struct {
	Code string
	Err  error
}

func (e *DataFetchError) Error() string {
	return fmt.Sprintf("data fetch failed for %s: %v", e.Code, e.Err)
}

func (e *DataFetchError) Unwrap() error { return e.Err }

// AnalysisError marks a failed generative-analysis call. The stock is recorded
// as failed and no result is emitted for it.
type AnalysisError struct {
	Code string
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed for %s: %v", e.Code, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// IntelSourceError marks a single intelligence dimension that failed. The
// aggregator logs it and treats the dimension as an empty contribution.
type IntelSourceError struct {
	Source string
	Err    error
}

func (e *IntelSourceError) Error() string {
	return fmt.Sprintf("intel source %s failed: %v", e.Source, e.Err)
}

func (e *IntelSourceError) Unwrap() error { return e.Err }
