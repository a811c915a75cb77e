// AvatarChat - speaks text through a lip-synced 3D avatar
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "avatarchat",
	Short: "AvatarChat - lip-synced speech for a 3D avatar",
	Long: `AvatarChat splits answers into sentences, synthesizes each one with a
timed viseme track, and plays them back in order while streaming mouth,
blink and body animation frames to a renderer.

Configuration:
  1. --config flag (explicit path)
  2. $HOME/.avatarchat/config.yaml
  3. ./config.yaml

Environment Variables:
  AVATARCHAT_SYNTHESIS_BASE_URL     - synthesis service URL
  AVATARCHAT_SYNTHESIS_LIPSYNC_API  - lip_3, amazon_polly or lip_5
  AVATARCHAT_AVATAR_PROFILE         - avatar profile or model name
  DUBBING_API_KEY                   - synthesis API key`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.avatarchat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(speakCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
