package policy

import (
	"fmt"
	"os"

	"github.com/cuemby/nodeforge/pkg/types"
	"gopkg.in/yaml.v3"
)

// LoadDocFromFile reads a NetworkPolicyDoc from a YAML file on disk. This
// is how an operator configures the runner-wide default policy (applied
// when a request carries no network_policy of its own) without having to
// hand-build the struct in Go.
func LoadDocFromFile(path string) (types.NetworkPolicyDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.NetworkPolicyDoc{}, fmt.Errorf("read policy file %s: %w", path, err)
	}
	var doc types.NetworkPolicyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return types.NetworkPolicyDoc{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return doc, nil
}
