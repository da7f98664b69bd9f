package common

// Engine is the contract every storage backend implements. The CLI and the
// workload tools only ever talk to a backend through this interface.
type Engine interface {
	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error

	// Get returns the value stored under key. found is false when the key
	// does not exist; absence is not an error.
	Get(key string) (value string, found bool, err error)

	// Remove deletes key. Returns ErrKeyNotFound if the key doesn't exist.
	Remove(key string) error

	// Close releases the backend's resources. Operations after Close
	// return ErrClosed.
	Close() error
}

// Compacter is implemented by engines that can reclaim space on demand.
type Compacter interface {
	Compact() error
}

// StatsReporter is implemented by engines that expose statistics.
type StatsReporter interface {
	Stats() Stats
}

// Stats contains engine statistics
type Stats struct {
	// Basic counts
	NumKeys       int64
	NumSegments   int
	ActiveSegSize int64
	TotalDiskSize int64
	StaleBytes    int64

	// Operation counters
	WriteCount   int64
	ReadCount    int64
	CompactCount int64

	SpaceAmp float64 // disk space used / live data size
}
