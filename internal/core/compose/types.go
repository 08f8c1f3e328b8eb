package compose

import "sort"

// =============================================================================
// Descriptor Types
// =============================================================================

// Descriptor is a validated deployment descriptor, decoupled from compose-go
// types so callers never depend on the parser library directly.
type Descriptor struct {
	Services []Service `json:"services"`
	Networks []string  `json:"networks,omitempty"`
	Volumes  []string  `json:"volumes,omitempty"`
}

// Service is a single service definition from the descriptor.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image,omitempty"`
	HasBuild    bool              `json:"has_build,omitempty"`
	Ports       []Port            `json:"ports,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
}

// Port is a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`
}

// ServiceNames lists the declared services in definition order.
func (d *Descriptor) ServiceNames() []string {
	names := make([]string, 0, len(d.Services))
	for _, svc := range d.Services {
		names = append(names, svc.Name)
	}
	return names
}

// PublishedPorts returns the distinct host ports the descriptor exposes, in
// ascending order. Dynamic mappings (no published port) are excluded. Smoke
// test suites use this to derive reachability probes.
func (d *Descriptor) PublishedPorts() []int {
	seen := make(map[int]bool)
	var ports []int
	for _, svc := range d.Services {
		for _, p := range svc.Ports {
			port := int(p.Published)
			if port == 0 || seen[port] {
				continue
			}
			seen[port] = true
			ports = append(ports, port)
		}
	}
	sort.Ints(ports)
	return ports
}
