package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seda/bdportal/internal/domain/route"
)

// LoadRoutes parses the route table from path, or from embedded when path is empty.
// Unknown YAML keys are rejected so typos in role requirements do not silently open a route.
func LoadRoutes(path string, embedded []byte) (*route.Table, error) {
	raw := embedded
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read routes file: %w", err)
		}
		raw = b
	}
	return ParseRoutes(raw)
}

// ParseRoutes decodes and normalises a YAML route table.
func ParseRoutes(raw []byte) (*route.Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var tbl route.Table
	if err := dec.Decode(&tbl); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	if err := tbl.Normalize(); err != nil {
		return nil, fmt.Errorf("invalid routes: %w", err)
	}
	return &tbl, nil
}
