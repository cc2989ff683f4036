package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-proctor/internal/apiclient"
)

func newIPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ip",
		Short: "Print the public IP that will be recorded at submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadAgent(*configPath)
			if err != nil {
				return err
			}
			ip, err := apiclient.New(cfg.APIBaseURL, cfg.IPLookupURL, "").PublicIP(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ip)
			return nil
		},
	}
}
