package ir

// Version constants for the IR schema and generator.
const (
	// IRVersion is the IR schema version.
	IRVersion = "1"

	// GeneratorVersion is the cxxada generator version.
	GeneratorVersion = "0.3.0"
)
