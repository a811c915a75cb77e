package avatar3d

import (
	"fmt"
	"sort"

	"github.com/qmuntal/gltf"
)

type MeshInfo struct {
	Name         string   `json:"name"`
	MorphTargets []string `json:"morphTargets"`
}

// ModelInfo is the part of a glTF asset the animation layer cares about.
type ModelInfo struct {
	Path       string     `json:"path"`
	Meshes     []MeshInfo `json:"meshes"`
	Animations []string   `json:"animations"`
}

// InspectModel reads morph target and animation names from a .gltf or .glb.
func InspectModel(path string) (*ModelInfo, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}

	info := &ModelInfo{Path: path}
	for i, mesh := range doc.Meshes {
		mi := MeshInfo{Name: mesh.Name}
		if mi.Name == "" {
			mi.Name = fmt.Sprintf("mesh_%d", i)
		}

		count := 0
		for _, prim := range mesh.Primitives {
			if len(prim.Targets) > count {
				count = len(prim.Targets)
			}
		}

		names := targetNames(mesh.Extras)
		for t := 0; t < count; t++ {
			if t < len(names) && names[t] != "" {
				mi.MorphTargets = append(mi.MorphTargets, names[t])
			} else {
				mi.MorphTargets = append(mi.MorphTargets, fmt.Sprintf("target_%d", t))
			}
		}
		info.Meshes = append(info.Meshes, mi)
	}

	for i, anim := range doc.Animations {
		name := anim.Name
		if name == "" {
			name = fmt.Sprintf("animation_%d", i)
		}
		info.Animations = append(info.Animations, name)
	}

	return info, nil
}

// targetNames follows the three.js convention of naming morph targets in
// mesh.extras.targetNames.
func targetNames(extras any) []string {
	m, ok := extras.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["targetNames"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, len(raw))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			names[i] = s
		}
	}
	return names
}

// MorphTargetNames returns the distinct morph target names across meshes.
func (m *ModelInfo) MorphTargetNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, mesh := range m.Meshes {
		for _, n := range mesh.MorphTargets {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Strings(out)
	return out
}

// HasAnimation reports whether the model carries a clip named name.
func (m *ModelInfo) HasAnimation(name string) bool {
	for _, a := range m.Animations {
		if a == name {
			return true
		}
	}
	return false
}
