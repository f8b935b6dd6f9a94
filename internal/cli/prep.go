package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dunamismax/kronos/internal/imageprep"
)

func newPrepCmd(root *rootOptions) *cobra.Command {
	var steps string

	cmd := &cobra.Command{
		Use:   "prep <input> <output>",
		Short: "Apply prep steps to one image and save the result",
		Example: `  kronos prep cat.jpg cat-224.png --steps resize.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadPrepSpec(steps)
			if err != nil {
				return err
			}

			img, err := imageprep.Load(args[0])
			if err != nil {
				return err
			}
			img.Describe(root.logger)

			out, err := imageprep.Apply(img, spec.Steps)
			if err != nil {
				return err
			}
			if err := out.Save(args[1]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d\n", args[1], out.Width(), out.Height())
			return nil
		},
	}

	cmd.Flags().StringVar(&steps, "steps", "", "YAML file with prep steps")
	return cmd
}
