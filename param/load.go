package param

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads an airframe file over the defaults and validates the result.
func Load(path string) (Params, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read airframe %s: %w", path, err)
	}
	err = yaml.Unmarshal(data, &p)
	if err != nil {
		return p, fmt.Errorf("parse airframe %s: %w", path, err)
	}
	err = p.Validate()
	if err != nil {
		return p, fmt.Errorf("airframe %s: %w", path, err)
	}
	return p, nil
}
