// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// Genesis represents the genesis file. Its hash seeds the initial piece set
// and the first challenge, so all fields are consensus critical.
type Genesis struct {
	Date           time.Time `json:"date"`
	ChainID        uint16    `json:"chain_id"`        // Unique id for this running network.
	Difficulty     uint32    `json:"difficulty"`      // Minimum proof quality to extend the chain.
	EncodingLayers int       `json:"encoding_layers"` // Sequential passes the codec applies per piece.
	PieceCount     uint64    `json:"piece_count"`     // Size of the initial piece set.
	OrphanLimit    int       `json:"orphan_limit"`    // Bound on blocks buffered awaiting a parent.
}

// =============================================================================

// Load opens and consumes the genesis file at the specified path.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Save writes the genesis document to the specified path. Used by tooling
// when standing up a new network.
func Save(path string, genesis Genesis) error {
	data, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
