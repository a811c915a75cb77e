package avatar3d

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

var (
	ErrUnknownProfile = errors.New("unknown avatar profile")
	ErrMissingMorphs  = errors.New("model lacks morph targets required by profile")
)

// Profile describes one avatar geometry: how viseme codes map onto its
// blend shapes, which shapes blink, and which body clips it plays.
type Profile struct {
	Name        string            `yaml:"name" json:"name"`
	Aliases     []string          `yaml:"aliases" json:"aliases,omitempty"`
	Gender      tts.Gender        `yaml:"gender" json:"gender"`
	Visemes     map[string]string `yaml:"visemes" json:"visemes"`
	BlinkShapes []string          `yaml:"blink_shapes" json:"blinkShapes"`
	IdleClip    string            `yaml:"idle_clip" json:"idleClip"`
	TalkingClip string            `yaml:"talking_clip" json:"talkingClip,omitempty"`
	TimeScale   float64           `yaml:"time_scale" json:"timeScale"`
}

// Rhubarb letters plus Oculus ids onto Ready Player Me / ARKit heads.
var rpmVisemes = map[string]string{
	"A": "viseme_PP",
	"B": "viseme_kk",
	"C": "viseme_I",
	"D": "viseme_AA",
	"E": "viseme_O",
	"F": "viseme_U",
	"G": "viseme_FF",
	"H": "viseme_TH",
	"X": "viseme_PP",

	"1":  "viseme_PP",
	"2":  "viseme_FF",
	"3":  "viseme_TH",
	"4":  "viseme_DD",
	"5":  "viseme_kk",
	"6":  "viseme_CH",
	"7":  "viseme_SS",
	"8":  "viseme_nn",
	"9":  "viseme_RR",
	"10": "viseme_AA",
	"11": "viseme_E",
	"12": "viseme_I",
	"13": "viseme_O",
	"14": "viseme_U",
}

// Character Creator heads. X (rest) is intentionally unmapped.
var ccVisemes = map[string]string{
	"A": "V_Explosive",
	"B": "V_Tight",
	"C": "V_Wide",
	"D": "V_Open",
	"E": "V_Tight_O",
	"F": "V_Tight_O",
	"G": "V_Dental_Lip",
	"H": "V_Tongue_up",

	"1":  "V_Explosive",
	"2":  "V_Dental_Lip",
	"3":  "V_Tongue_Out",
	"4":  "V_Tongue_up",
	"5":  "V_Tight",
	"6":  "V_Affricate",
	"7":  "V_Tight",
	"8":  "V_Tongue_up",
	"9":  "V_Tight_O",
	"10": "V_Open",
	"11": "V_Wide",
	"12": "V_Wide",
	"13": "V_Tight_O",
	"14": "V_Tight_O",
}

// BuiltinProfiles returns the shipped avatars keyed by name.
func BuiltinProfiles() map[string]*Profile {
	return map[string]*Profile{
		"nikita": {
			Name:        "nikita",
			Gender:      tts.GenderFemale,
			Visemes:     copyTable(rpmVisemes),
			BlinkShapes: []string{"eyeBlinkLeft", "eyeBlinkRight"},
			IdleClip:    "F_Standing_Idle_001",
			TalkingClip: "F_Talking_Variations_005",
			TimeScale:   1,
		},
		"rose": {
			Name:        "rose",
			Gender:      tts.GenderFemale,
			Visemes:     copyTable(ccVisemes),
			BlinkShapes: []string{"Eye_Blink_L", "Eye_Blink_R"},
			IdleClip:    "Test",
			TimeScale:   1,
		},
		"ryan": {
			Name:        "ryan",
			Aliases:     []string{"character_6v", "character"},
			Gender:      tts.GenderMale,
			Visemes:     copyTable(ccVisemes),
			BlinkShapes: []string{"Eye_Blink_L", "Eye_Blink_R"},
			IdleClip:    "charaAnimation",
			TalkingClip: "charaAnimation",
			TimeScale:   1.5,
		},
		"fernanda": {
			Name:        "fernanda",
			Gender:      tts.GenderFemale,
			Visemes:     copyTable(ccVisemes),
			BlinkShapes: []string{"Eye_Blink_L", "Eye_Blink_R"},
			IdleClip:    "fernandaIdle",
			TalkingClip: "fernandaIdle",
			TimeScale:   0.7,
		},
	}
}

func copyTable(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MouthShapes returns the distinct blend shapes the viseme table drives.
func (p *Profile) MouthShapes() []string {
	seen := make(map[string]bool, len(p.Visemes))
	var out []string
	for _, shape := range p.Visemes {
		if shape == "" || seen[shape] {
			continue
		}
		seen[shape] = true
		out = append(out, shape)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every shape the profile drives exists in morphNames.
func (p *Profile) Validate(morphNames []string) error {
	have := make(map[string]bool, len(morphNames))
	for _, n := range morphNames {
		have[n] = true
	}

	var missing []string
	for _, shape := range append(p.MouthShapes(), p.BlinkShapes...) {
		if !have[shape] {
			missing = append(missing, shape)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s: %s", ErrMissingMorphs, p.Name, strings.Join(missing, ", "))
	}
	return nil
}

// LoadProfiles reads profiles from a YAML file, a list under "profiles".
func LoadProfiles(path string) (map[string]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var file struct {
		Profiles []*Profile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}

	out := make(map[string]*Profile, len(file.Profiles))
	for _, p := range file.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("profiles %s: entry without name", path)
		}
		if p.Gender == "" {
			p.Gender = tts.GenderFemale
		}
		if p.TimeScale == 0 {
			p.TimeScale = 1
		}
		out[p.Name] = p
	}
	return out, nil
}

// LookupProfile resolves a model name against extra then the builtins. A
// model matches a profile by exact name, by alias, or by containing either.
func LookupProfile(model string, extra map[string]*Profile) (*Profile, error) {
	sets := []map[string]*Profile{extra, BuiltinProfiles()}

	for _, set := range sets {
		if p, ok := set[model]; ok {
			return p, nil
		}
	}
	for _, set := range sets {
		for _, name := range sortedKeys(set) {
			p := set[name]
			for _, a := range append([]string{p.Name}, p.Aliases...) {
				if a != "" && strings.Contains(model, a) {
					return p, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, model)
}

func sortedKeys(m map[string]*Profile) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
