package dataflow

import "fmt"

// Ports resolves a component's default input keys against a caller-supplied
// rename map and tags its output keys with the component's instance name.
//
// The key lists are computed per instance at construction and are immutable
// afterwards; variants with optional channels build their default key lists
// before constructing their Ports.
type Ports struct {
	name        string
	defaultIn   []string
	keyMap      map[string]string
	inputKeys   []string
	outputKeys  []string
	defaultsOut []string
}

// NewPorts builds the port signature for a component instance.
//
// remap maps a default input key to the actual key read from the caller's
// bag; defaults absent from remap resolve to themselves. The resolved key set
// must have exactly one real key per default key: a remap that collapses or
// misses keys is a configuration error. When name is non-empty every output
// key is suffixed with "_<name>".
func NewPorts(defaultIn, defaultOut []string, name string, remap map[string]string) (*Ports, error) {
	keyMap := make(map[string]string, len(defaultIn))
	for _, k := range defaultIn {
		keyMap[k] = k
	}
	for from, to := range remap {
		if _, ok := keyMap[from]; !ok {
			return nil, fmt.Errorf("input key map: %q is not a default input key (defaults: %v)", from, defaultIn)
		}
		keyMap[from] = to
	}

	inputKeys := make([]string, 0, len(defaultIn))
	seen := make(map[string]struct{}, len(defaultIn))
	for _, k := range defaultIn {
		mapped := keyMap[k]
		if _, dup := seen[mapped]; !dup {
			seen[mapped] = struct{}{}
			inputKeys = append(inputKeys, mapped)
		}
	}
	if len(inputKeys) != len(defaultIn) {
		return nil, fmt.Errorf("input key map collapses %d default keys onto %d real keys", len(defaultIn), len(inputKeys))
	}

	outputKeys := make([]string, len(defaultOut))
	for i, k := range defaultOut {
		if name != "" {
			outputKeys[i] = k + "_" + name
		} else {
			outputKeys[i] = k
		}
	}

	return &Ports{
		name:        name,
		defaultIn:   append([]string(nil), defaultIn...),
		keyMap:      keyMap,
		inputKeys:   inputKeys,
		outputKeys:  outputKeys,
		defaultsOut: append([]string(nil), defaultOut...),
	}, nil
}

// Name returns the instance name, empty when unset.
func (p *Ports) Name() string { return p.name }

// In resolves a default input key to the actual bag key.
func (p *Ports) In(defaultKey string) string {
	mapped, ok := p.keyMap[defaultKey]
	if !ok {
		panic(fmt.Sprintf("ports: %q is not a default input key", defaultKey))
	}
	return mapped
}

// Has reports whether defaultKey is part of the port signature.
func (p *Ports) Has(defaultKey string) bool {
	_, ok := p.keyMap[defaultKey]
	return ok
}

// Out resolves a default output key to its (possibly name-suffixed) bag key.
func (p *Ports) Out(defaultKey string) string {
	if p.name != "" {
		return defaultKey + "_" + p.name
	}
	return defaultKey
}

// InputKeys returns the resolved input keys in declaration order.
func (p *Ports) InputKeys() []string { return append([]string(nil), p.inputKeys...) }

// OutputKeys returns the tagged output keys in declaration order.
func (p *Ports) OutputKeys() []string { return append([]string(nil), p.outputKeys...) }
