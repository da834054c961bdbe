package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"microchallenges/internal/config"
	"microchallenges/internal/signature"

	"github.com/spf13/cobra"
)

func (c *cli) newSignCmd() *cobra.Command {
	var header bool

	cmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the signature of a payload",
		Long: `sign prints the lowercase hex HMAC-SHA256 of the file's bytes, or of
standard input when no file is given, under the secret from
MICROCHALLENGES_SECRET (or SECRET). The bytes are signed exactly as read;
send them unchanged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.loadViper(cmd)
			if err != nil {
				return err
			}
			if c.configFile != "" {
				v.SetConfigFile(c.configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to load config file: %w", err)
				}
			}

			secret := config.ResolveSecret(v)
			if secret == "" {
				return errors.New("secret is required (set MICROCHALLENGES_SECRET or SECRET)")
			}

			var payload []byte
			if len(args) == 1 {
				payload, err = os.ReadFile(args[0])
			} else {
				payload, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}

			sig := signature.Sign(signature.NewSecret(secret), payload)
			if header {
				fmt.Fprintf(c.out, "%s: %s\n", v.GetString("signature-header"), sig)
				return nil
			}
			fmt.Fprintln(c.out, sig)
			return nil
		},
	}

	cmd.Flags().BoolVar(&header, "header", false, "Print as an HTTP header line")
	return cmd
}
