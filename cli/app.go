package cli

import (
	"github.com/urfave/cli/v2"

	"mrcrypt/mrcrypt/config"
	"mrcrypt/mrcrypt/crypto"
)

var verboseCount int

// NewApp builds the mrcrypt command-line application.
func NewApp() *cli.App {
	return &cli.App{
		Name:  "mrcrypt",
		Usage: "Multi Region Encryption. A tool for managing secrets across multiple KMS regions.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    config.ConfigPathFlag,
				Aliases: []string{"c"},
				Usage:   "config file",
				Value:   config.DefaultConfigPath,
			},
			&cli.StringFlag{
				Name:    "profile",
				Aliases: []string{"p"},
				Usage:   "the credentials profile to use",
			},
			&cli.StringFlag{
				Name:    "outfile",
				Aliases: []string{"o"},
				Usage:   "the file to write the results to",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "more verbose output",
				Count:   &verboseCount,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "encrypt",
				Usage:     "Encrypts a file or directory recursively",
				ArgsUsage: "key_id filename",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "regions",
						Aliases: []string{"r"},
						Usage:   "regions to wrap the data key in",
					},
					&cli.StringSliceFlag{
						Name:    "encryption-context",
						Aliases: []string{"e"},
						Usage:   "encryption context entries as key=value",
					},
				},
				Action: encryptAction,
			},
			{
				Name:      "decrypt",
				Usage:     "Decrypts a file or directory recursively",
				ArgsUsage: "filename",
				Action:    decryptAction,
			},
		},
	}
}

// newProviderParams merges the command line with config file defaults into
// master key provider parameters.
func newProviderParams(c *cli.Context, configProvider config.ConfigProvider) crypto.ProviderParams {
	defaults := configProvider.GetConfig().Defaults

	params := crypto.ProviderParams{
		Provider:   defaults.Provider,
		KeyID:      defaults.KeyID,
		Regions:    defaults.Regions,
		Profile:    defaults.Profile,
		GCPKeyName: defaults.GCPKeyName,
	}

	if c.Command != nil && c.Command.Name == "encrypt" && c.Args().First() != "" {
		params.KeyID = c.Args().First()
	}
	if regions := c.StringSlice("regions"); len(regions) > 0 {
		params.Regions = regions
	}
	if profile := c.String("profile"); profile != "" {
		params.Profile = profile
	}

	return params
}
