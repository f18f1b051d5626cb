package cli

// RunWithWriter is exported for testing
var RunWithWriter = run

// ParseGCSURL is exported for testing
var ParseGCSURL = parseGCSURL

// GetIndexConfig is exported for testing
var GetIndexConfig = getIndexConfig
