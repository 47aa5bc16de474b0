package aggregator

import "errors"

var (
	// ErrInsufficientData indicates that no observation survived fetching and outlier filtering.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrUnknownToken indicates that no sources are configured for the token.
	ErrUnknownToken = errors.New("unknown token")
	// ErrUnknownEstimator indicates that the estimator is unknown.
	ErrUnknownEstimator = errors.New("unknown estimator")
)
