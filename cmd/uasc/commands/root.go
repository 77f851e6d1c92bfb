package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/uasc"
	"github.com/opd-ai/uasc/crypto"
)

var (
	cfgPath    string
	policyName string
	modeName   string
	verbose    bool
)

func Execute() error {
	root := &cobra.Command{
		Use:   "uasc",
		Short: "Secure conversation channel tool",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "TOML config file")
	root.PersistentFlags().StringVar(&policyName, "policy", "", "security policy (None, Basic256Sha256, ...)")
	root.PersistentFlags().StringVar(&modeName, "mode", "", "security mode (None, Sign, SignAndEncrypt)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd(), pingCmd())
	return root.Execute()
}

// channelConfig builds the channel configuration from the config file and
// command-line overrides.
func channelConfig() (*uasc.Config, error) {
	cfg := uasc.DefaultConfig()
	if cfgPath != "" {
		loaded, err := loadChannelConfig(cfgPath, cfg)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if policyName != "" {
		p := crypto.PolicyFromName(policyName)
		if p == crypto.PolicyInvalid {
			return nil, fmt.Errorf("unknown security policy %q", policyName)
		}
		cfg.Policy = p
	}
	if modeName != "" {
		m := crypto.ModeFromName(modeName)
		if m == crypto.ModeInvalid {
			return nil, fmt.Errorf("unknown security mode %q", modeName)
		}
		cfg.Mode = m
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
