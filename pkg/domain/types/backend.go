package types

import "fmt"

// BackendType is the tag selecting a storage backend
type BackendType string

const (
	BackendLocal     BackendType = "local"
	BackendMemory    BackendType = "memory"
	BackendFirestore BackendType = "firestore"
	BackendNeo4j     BackendType = "neo4j"
)

// backendAliases keeps tags of older deployments working
var backendAliases = map[string]BackendType{
	"lancedb": BackendLocal,
	"graph":   BackendFirestore,
}

// AllBackendTypes returns all known backend types
func AllBackendTypes() []BackendType {
	return []BackendType{
		BackendLocal,
		BackendMemory,
		BackendFirestore,
		BackendNeo4j,
	}
}

// IsValid checks if the backend type is known
func (b BackendType) IsValid() bool {
	switch b {
	case BackendLocal,
		BackendMemory,
		BackendFirestore,
		BackendNeo4j:
		return true
	default:
		return false
	}
}

// String returns the string representation of the backend type
func (b BackendType) String() string {
	return string(b)
}

// ParseBackendType parses a tag, resolving aliases
func ParseBackendType(s string) (BackendType, error) {
	if alias, ok := backendAliases[s]; ok {
		return alias, nil
	}
	b := BackendType(s)
	if !b.IsValid() {
		return "", fmt.Errorf("invalid backend type: %s", s)
	}
	return b, nil
}
