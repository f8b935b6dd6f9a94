package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dunamismax/kronos/internal/imageprep"
)

func newDescribeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <image>...",
		Short: "Print the size of one or more images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				img, err := imageprep.Load(path)
				if err != nil {
					return err
				}
				img.Describe(root.logger.With().Str("path", path).Logger())
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d\n", path, img.Width(), img.Height())
			}
			return nil
		},
	}
}
