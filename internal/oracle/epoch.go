package oracle

import "math"

// EpochAt returns floor(ts / duration).
func EpochAt(ts uint64, duration uint32) (uint32, error) {
	if duration == 0 {
		return 0, ErrInvalidEpochDuration
	}
	epoch := ts / uint64(duration)
	if epoch > math.MaxUint32 {
		return 0, ErrEpochOverflow
	}
	return uint32(epoch), nil
}

// EpochClock derives epoch indices from a time source. It holds no state of
// its own.
type EpochClock struct {
	Source   TimeSource
	Duration uint32
}

// Current returns the index of the epoch containing Source.Now().
func (c EpochClock) Current() (uint32, error) {
	return EpochAt(c.Source.Now(), c.Duration)
}

// Window returns the [start, end) unix-second bounds of epoch.
func (c EpochClock) Window(epoch uint32) (start, end uint64) {
	return EpochWindow(epoch, c.Duration)
}

// EpochWindow returns the [start, end) unix-second bounds of epoch.
func EpochWindow(epoch, duration uint32) (start, end uint64) {
	start = uint64(epoch) * uint64(duration)
	return start, start + uint64(duration)
}
