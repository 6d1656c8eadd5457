package ir

// Version constants for the data model and engine.
const (
	// IRVersion is the data model schema version.
	IRVersion = "1"

	// EngineVersion is the entmap engine version.
	EngineVersion = "0.1.0"
)
