package ir

// Version constants for the persisted checkpoint schema.
const (
	// SchemaVersion is the checkpoint record schema version.
	SchemaVersion = "1"

	// EngineVersion is the flow engine version stamped into stored rows.
	EngineVersion = "0.1.0"
)
