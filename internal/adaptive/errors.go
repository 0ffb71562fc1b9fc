package adaptive

import "errors"

var (
	// ErrInvalidBounds is returned when Min is not positive or exceeds Max.
	ErrInvalidBounds = errors.New("invalid adaptive timeout bounds: need 0 < min <= max")

	// ErrInvalidInitial is returned when a class seed lies outside [Min, Max].
	ErrInvalidInitial = errors.New("invalid adaptive initial timeout: must lie within [min, max]")

	// ErrInvalidGain is returned when an EWMA gain is outside (0, 1].
	ErrInvalidGain = errors.New("invalid adaptive gain: alpha, beta and outlier weight must be in (0, 1]")

	// ErrInvalidMultiplier is returned when the backoff multiplier is not above 1.
	ErrInvalidMultiplier = errors.New("invalid adaptive backoff multiplier: must be greater than 1")

	// ErrInvalidStep is returned when the additive decrease step or streak length is not positive.
	ErrInvalidStep = errors.New("invalid adaptive decrease: step and fast streak must be positive")

	// ErrInvalidFactor is returned when the spread or outlier factor is not a positive finite number.
	ErrInvalidFactor = errors.New("invalid adaptive factor: spread and outlier factors must be positive")

	// ErrInvalidRatio is returned when the fast ratio is outside (0, 1] or the consistency ratio is not positive.
	ErrInvalidRatio = errors.New("invalid adaptive ratio: fast ratio must be in (0, 1] and consistency ratio positive")

	// ErrInvalidPromotion is returned when the host promotion sample count is below 1.
	ErrInvalidPromotion = errors.New("invalid adaptive host promotion: need at least 1 sample")
)
