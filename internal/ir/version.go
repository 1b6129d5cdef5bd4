package ir

// EngineVersion is reported by the CLI and stamped on request listings.
const EngineVersion = "0.1.0"
