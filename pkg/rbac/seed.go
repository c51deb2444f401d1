package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PermissionSeed is the reference permission data applied at deployment
type PermissionSeed struct {
	Permissions []SeedPermission `yaml:"permissions"`
}

// SeedPermission is one permission row in a seed file
type SeedPermission struct {
	Action      Action `yaml:"action"`
	Description string `yaml:"description"`
}

// DefaultPermissionSeed returns one permission per action
func DefaultPermissionSeed() *PermissionSeed {
	return &PermissionSeed{
		Permissions: []SeedPermission{
			{Action: ActionCreate, Description: "Create records"},
			{Action: ActionReadAll, Description: "List and read every record"},
			{Action: ActionUpdate, Description: "Update records and return books"},
			{Action: ActionDelete, Description: "Delete records"},
			{Action: ActionAll, Description: "Every action"},
		},
	}
}

// LoadPermissionSeed reads a YAML seed file.
// An empty path yields DefaultPermissionSeed.
func LoadPermissionSeed(path string) (*PermissionSeed, error) {
	if path == "" {
		return DefaultPermissionSeed(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read permission seed: %w", err)
	}

	var seed PermissionSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse permission seed: %w", err)
	}

	seen := make(map[Action]bool, len(seed.Permissions))
	for _, p := range seed.Permissions {
		if !p.Action.IsValid() {
			return nil, fmt.Errorf("permission seed: unknown action %q", p.Action)
		}
		if seen[p.Action] {
			return nil, fmt.Errorf("permission seed: duplicate action %q", p.Action)
		}
		seen[p.Action] = true
	}

	return &seed, nil
}
