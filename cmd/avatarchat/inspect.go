package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/WachasWps/AI-Avatar-Chat/internal/avatar3d"
	"github.com/WachasWps/AI-Avatar-Chat/internal/config"
)

var inspectProfile string

var inspectCmd = &cobra.Command{
	Use:   "inspect-model [path]",
	Short: "List a glTF model's morph targets and check them against an avatar profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg.Synthesis.APIKey = redact(cfg.Synthesis.APIKey)
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and avatar profiles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		profiles, err := loadProfiles(cfg)
		if err != nil {
			return err
		}
		if _, err := avatar3d.LookupProfile(cfg.Avatar.Profile, profiles); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectProfile, "profile", "", "profile to validate against (default: resolved from the model file name)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	info, err := avatar3d.InspectModel(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, m := range info.Meshes {
		fmt.Fprintf(out, "mesh %s: %d morph targets\n", m.Name, len(m.MorphTargets))
		for _, t := range m.MorphTargets {
			fmt.Fprintf(out, "  %s\n", t)
		}
	}
	if len(info.Animations) > 0 {
		fmt.Fprintf(out, "animations: %s\n", strings.Join(info.Animations, ", "))
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	profiles, err := loadProfiles(cfg)
	if err != nil {
		return err
	}
	selector := inspectProfile
	if selector == "" {
		selector = path
	}
	p, err := avatar3d.LookupProfile(selector, profiles)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "profile: %s\n", p.Name)
	for _, clip := range []string{p.IdleClip, p.TalkingClip} {
		if clip != "" && !info.HasAnimation(clip) {
			fmt.Fprintf(out, "warning: clip %q not found in model\n", clip)
		}
	}
	if err := p.Validate(info.MorphTargetNames()); err != nil {
		return err
	}
	fmt.Fprintln(out, "profile OK")
	return nil
}

func redact(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
