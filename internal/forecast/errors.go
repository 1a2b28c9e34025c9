package forecast

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData reports a series too short to build train and test windows.
	ErrInsufficientData = errors.New("forecast: insufficient data")
	// ErrMissingColumn reports input lacking a required column.
	ErrMissingColumn = errors.New("forecast: missing column")
	// ErrNonFinite reports a NaN or Inf loss or prediction.
	ErrNonFinite = errors.New("forecast: non-finite value")
	// ErrInvalidSeries reports input that is not one product/platform series with unique dates.
	ErrInvalidSeries = errors.New("forecast: invalid series")
)

// InsufficientDataError carries how much history was available versus required.
type InsufficientDataError struct {
	Have   int
	Need   int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %s (have %d, need %d); reduce the window length or supply more history", e.Reason, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// MissingColumnError names a required input column that is absent.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing required column %q", e.Column)
}

func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingColumn
}

// SeriesError describes why a record set is not a single series.
type SeriesError struct {
	Reason string
}

func (e *SeriesError) Error() string {
	return "invalid series: " + e.Reason
}

func (e *SeriesError) Is(target error) bool {
	return target == ErrInvalidSeries
}

// NumericError is returned when training or rollout produces NaN or Inf.
type NumericError struct {
	Stage Stage
	What  string
	Value float64
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("non-finite %s during %s: %v", e.What, e.Stage, e.Value)
}

func (e *NumericError) Is(target error) bool {
	return target == ErrNonFinite
}

// StageError wraps a pipeline failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("forecast %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
