package ips

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	IDModeRandom        = "random"
	IDModeDeterministic = "deterministic"
)

// DefaultIDNamespace seeds deterministic identifiers when no namespace is
// configured.
var DefaultIDNamespace = uuid.MustParse("6f1c2b9e-3d7a-4c55-8e0b-2a4d9f7c1e30")

// IDGenerator mints the identifiers an assembly run needs: placeholder ids,
// the Composition id, entry fullUrls and the bundle identifier. purpose and
// parts describe what the identifier is for; random generators ignore them.
type IDGenerator interface {
	NewID(purpose string, parts ...string) string
}

// RandomIDs returns a fresh v4 UUID for every call.
type RandomIDs struct{}

func (RandomIDs) NewID(string, ...string) string {
	return uuid.NewString()
}

// DeterministicIDs derives name-based v5 UUIDs from the purpose and parts, so
// identical inputs yield identical identifiers across runs.
type DeterministicIDs struct {
	Namespace uuid.UUID
}

func (d DeterministicIDs) NewID(purpose string, parts ...string) string {
	name := purpose + "\x1f" + strings.Join(parts, "\x1f")
	return uuid.NewSHA1(d.Namespace, []byte(name)).String()
}

// NewIDGenerator returns the generator for mode. An empty namespace selects
// DefaultIDNamespace.
func NewIDGenerator(mode, namespace string) (IDGenerator, error) {
	switch mode {
	case "", IDModeRandom:
		return RandomIDs{}, nil
	case IDModeDeterministic:
		ns := DefaultIDNamespace
		if namespace != "" {
			parsed, err := uuid.Parse(namespace)
			if err != nil {
				return nil, fmt.Errorf("invalid id namespace %q: %w", namespace, err)
			}
			ns = parsed
		}
		return DeterministicIDs{Namespace: ns}, nil
	default:
		return nil, fmt.Errorf("unknown id mode %q (want %q or %q)", mode, IDModeRandom, IDModeDeterministic)
	}
}

func urnUUID(id string) string {
	return "urn:uuid:" + id
}
