package avatar3d

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

func TestBodyAnimatorCrossFade(t *testing.T) {
	b := NewBodyAnimator(nikita(t), 500*time.Millisecond)

	s := b.Snapshot()
	assert.Equal(t, BodyIdle, s.State)
	assert.Equal(t, "F_Standing_Idle_001", s.Clip)
	assert.Equal(t, float32(1), s.Blend)

	require.True(t, b.SetTalking(true))
	assert.False(t, b.SetTalking(true))

	s = b.Snapshot()
	assert.Equal(t, BodyTalking, s.State)
	assert.Equal(t, "F_Talking_Variations_005", s.Clip)
	assert.Equal(t, "F_Standing_Idle_001", s.PreviousClip)
	assert.Equal(t, float32(0), s.Blend)

	b.Update(250 * time.Millisecond)
	assert.InDelta(t, 0.5, b.Snapshot().Blend, 1e-6)

	b.Update(300 * time.Millisecond)
	s = b.Snapshot()
	assert.Equal(t, float32(1), s.Blend)
	assert.Empty(t, s.PreviousClip)

	require.True(t, b.SetTalking(false))
	s = b.Snapshot()
	assert.Equal(t, "F_Standing_Idle_001", s.Clip)
	assert.Equal(t, "F_Talking_Variations_005", s.PreviousClip)
}

func TestBodyAnimatorSingleClipProfiles(t *testing.T) {
	rose, err := LookupProfile("rose", nil)
	require.NoError(t, err)

	b := NewBodyAnimator(rose, 500*time.Millisecond)
	require.True(t, b.SetTalking(true))

	s := b.Snapshot()
	assert.Equal(t, BodyTalking, s.State)
	assert.Equal(t, "Test", s.Clip)
	assert.Empty(t, s.PreviousClip, "no fade when the clip does not change")
	assert.Equal(t, float32(1), s.Blend)

	ryan, err := LookupProfile("character_6v", nil)
	require.NoError(t, err)
	assert.Equal(t, 1.5, NewBodyAnimator(ryan, time.Second).Snapshot().TimeScale)
}

func TestLookupProfile(t *testing.T) {
	p, err := LookupProfile("/models/ryan_v2.glb", nil)
	require.NoError(t, err)
	assert.Equal(t, "ryan", p.Name)
	assert.Equal(t, tts.GenderMale, p.Gender)

	p, err = LookupProfile("fernanda", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.7, p.TimeScale)

	_, err = LookupProfile("zed", nil)
	assert.ErrorIs(t, err, ErrUnknownProfile)

	custom := map[string]*Profile{"nikita": {Name: "nikita", IdleClip: "Custom"}}
	p, err = LookupProfile("nikita", custom)
	require.NoError(t, err)
	assert.Equal(t, "Custom", p.IdleClip)
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	data := `
profiles:
  - name: sam
    aliases: [samuel]
    gender: male
    visemes: {A: mouthClose, D: jawOpen}
    blink_shapes: [blinkL, blinkR]
    idle_clip: Idle
    talking_clip: Talk
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Contains(t, profiles, "sam")

	sam := profiles["sam"]
	assert.Equal(t, tts.GenderMale, sam.Gender)
	assert.Equal(t, 1.0, sam.TimeScale)
	assert.Equal(t, []string{"jawOpen", "mouthClose"}, sam.MouthShapes())

	p, err := LookupProfile("samuel-head", profiles)
	require.NoError(t, err)
	assert.Equal(t, "sam", p.Name)
}

func TestProfileValidate(t *testing.T) {
	p := &Profile{
		Name:        "mini",
		Visemes:     map[string]string{"A": "mouthClose", "B": "jawOpen", "X": ""},
		BlinkShapes: []string{"blinkL"},
	}
	assert.NoError(t, p.Validate([]string{"mouthClose", "jawOpen", "blinkL", "extra"}))

	err := p.Validate([]string{"mouthClose"})
	assert.ErrorIs(t, err, ErrMissingMorphs)
	assert.Contains(t, err.Error(), "blinkL, jawOpen")
}

const miniGLTF = `{
  "asset": {"version": "2.0"},
  "accessors": [{"componentType": 5126, "count": 1, "type": "VEC3"}],
  "meshes": [{
    "name": "Head",
    "extras": {"targetNames": ["mouthClose", "jawOpen", "blinkL"]},
    "primitives": [{
      "attributes": {"POSITION": 0},
      "targets": [{"POSITION": 0}, {"POSITION": 0}, {"POSITION": 0}]
    }]
  }, {
    "primitives": [{
      "attributes": {"POSITION": 0},
      "targets": [{"POSITION": 0}]
    }]
  }],
  "animations": [{"name": "Idle", "channels": [], "samplers": []}]
}`

func TestInspectModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.gltf")
	require.NoError(t, os.WriteFile(path, []byte(miniGLTF), 0644))

	info, err := InspectModel(path)
	require.NoError(t, err)

	require.Len(t, info.Meshes, 2)
	assert.Equal(t, "Head", info.Meshes[0].Name)
	assert.Equal(t, []string{"mouthClose", "jawOpen", "blinkL"}, info.Meshes[0].MorphTargets)
	assert.Equal(t, "mesh_1", info.Meshes[1].Name)
	assert.Equal(t, []string{"target_0"}, info.Meshes[1].MorphTargets)
	assert.True(t, info.HasAnimation("Idle"))
	assert.Equal(t, []string{"blinkL", "jawOpen", "mouthClose", "target_0"}, info.MorphTargetNames())

	p := &Profile{Name: "mini", Visemes: map[string]string{"A": "mouthClose", "D": "jawOpen"}, BlinkShapes: []string{"blinkL"}}
	assert.NoError(t, p.Validate(info.MorphTargetNames()))
}

func TestInspectModelMissingFile(t *testing.T) {
	_, err := InspectModel(filepath.Join(t.TempDir(), "none.glb"))
	assert.Error(t, err)
}
