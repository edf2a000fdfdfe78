package skillgraph

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a JSON array of skill records and builds the graph.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill graph: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse skill graph %s: %w", path, err)
	}
	return Load(records)
}
