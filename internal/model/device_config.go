package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfigPathNotFound  = errors.New("config path not found")
	ErrConfigPathNotScalar = errors.New("config path does not resolve to a scalar")
)

// DeviceConfig is the nested configuration document returned by config.get.
// It is read-only once fetched; a successful setlimits call makes it stale
// until the next fetch.
type DeviceConfig struct {
	root map[string]any
}

func NewDeviceConfig(root map[string]any) *DeviceConfig {
	if root == nil {
		root = map[string]any{}
	}
	return &DeviceConfig{root: root}
}

// Root exposes the underlying document. Callers must not mutate it.
func (c *DeviceConfig) Root() map[string]any {
	if c == nil {
		return nil
	}
	return c.root
}

// Lookup resolves a dot separated path such as "tank.liters.low_threshold".
// Every segment must exist and the final value must be a scalar.
func (c *DeviceConfig) Lookup(path string) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: %q (no config loaded)", ErrConfigPathNotFound, path)
	}
	segments := strings.Split(path, ".")
	var cur any = c.root
	for i, seg := range segments {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q stops at %q", ErrConfigPathNotFound, path, strings.Join(segments[:i], "."))
		}
		next, ok := node[seg]
		if !ok {
			return nil, fmt.Errorf("%w: %q has no %q", ErrConfigPathNotFound, path, strings.Join(segments[:i+1], "."))
		}
		cur = next
	}
	switch cur.(type) {
	case map[string]any, []any:
		return nil, fmt.Errorf("%w: %q", ErrConfigPathNotScalar, path)
	}
	return cur, nil
}
