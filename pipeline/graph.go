package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Task is one independent unit of work inside a transform.
type Task func(ctx context.Context) error

// Transform is one stage of a graph. Tasks within a transform may run
// concurrently; transforms run in order.
type Transform struct {
	Name  string
	Tasks []Task
}

// Graph is an attachable computation. Spec is a JSON description that lets a
// remote engine rebuild the same graph inside the container image.
type Graph struct {
	Name       string
	Transforms []Transform
	Spec       json.RawMessage
}

var ErrNotShippable = errors.New("graph has no spec")

// EncodePayload packs the specs of graphs into a base64 string suitable for a
// container argument.
func EncodePayload(graphs []Graph) (string, error) {
	specs := make([]json.RawMessage, 0, len(graphs))
	for _, g := range graphs {
		if len(g.Spec) == 0 {
			return "", fmt.Errorf("%s: %w", g.Name, ErrNotShippable)
		}
		specs = append(specs, g.Spec)
	}
	data, err := json.Marshal(specs)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func DecodePayload(payload string) ([]json.RawMessage, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var specs []json.RawMessage
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return specs, nil
}
