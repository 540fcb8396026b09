package detector

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Static is a Detector with a fixed answer, useful where no process exists.
type Static bool

func (s Static) Alive() (bool, error) { return bool(s), nil }
func (s Static) Describe() string {
	if s {
		return "static:alive"
	}
	return "static:dead"
}
