package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GPU is a single bookable unit attached to a node.
type GPU struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`
}

// Node is one compute host and its fixed GPU list.
type Node struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	GPUs []GPU  `yaml:"gpus"`
}

// Catalog is an immutable topology snapshot. Reload replaces it wholesale.
type Catalog struct {
	Nodes []Node `yaml:"nodes"`
}

func (c *Catalog) Node(id string) *Node {
	for i := range c.Nodes {
		if c.Nodes[i].ID == id {
			return &c.Nodes[i]
		}
	}
	return nil
}

// Load reads and validates a topology file. YAML 1.2 is a superset of JSON,
// so both formats are accepted.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cat Catalog
	if err := yaml.NewDecoder(f).Decode(&cat); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	if err := cat.validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (c *Catalog) validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("catalog must include at least one node")
	}

	seenNodes := make(map[string]bool)
	seenGPUs := make(map[string]bool)
	for i := range c.Nodes {
		node := &c.Nodes[i]
		node.ID = strings.TrimSpace(node.ID)
		if node.ID == "" {
			return fmt.Errorf("each node must include a non-empty id")
		}
		if seenNodes[node.ID] {
			return fmt.Errorf("duplicate node id %q", node.ID)
		}
		seenNodes[node.ID] = true

		if strings.TrimSpace(node.Name) == "" {
			node.Name = node.ID
		}

		for j := range node.GPUs {
			gpu := &node.GPUs[j]
			gpu.ID = strings.TrimSpace(gpu.ID)
			if gpu.ID == "" {
				return fmt.Errorf("node %q contains a GPU without an id", node.ID)
			}
			if seenGPUs[gpu.ID] {
				return fmt.Errorf("duplicate GPU id %q", gpu.ID)
			}
			seenGPUs[gpu.ID] = true
			if strings.TrimSpace(gpu.Kind) == "" {
				gpu.Kind = "unspecified"
			}
		}
	}
	return nil
}
