package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/loader/offsets"
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or check the offset file of a corpus",
		Long: `Build the offset file of a corpus, one byte offset per line, so that workers
can seek straight to their lines. An existing offset file is checked against
the corpus instead, unless --rebuild is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			corpus, err := cmd.Flags().GetString("corpus")
			if err != nil {
				return errors.WithStack(err)
			}
			if corpus == "" {
				return errors.New("--corpus is required")
			}
			rebuild, err := cmd.Flags().GetBool("rebuild")
			if err != nil {
				return errors.WithStack(err)
			}

			var index offsets.Index
			built := true
			if rebuild {
				index, err = offsets.Build(corpus)
			} else {
				index, built, err = offsets.LoadOrBuild(corpus)
			}
			if err != nil {
				return err
			}
			if err := offsets.Validate(index, corpus); err != nil {
				return err
			}

			verb := "Checked"
			if built {
				verb = "Created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s offset file %s. Total lines: %d\n", verb, offsets.SidecarPath(corpus), len(index))
			return nil
		},
	}

	cmd.Flags().String("corpus", "", "Path of the JSON lines corpus")
	cmd.Flags().Bool("rebuild", false, "Rebuild the offset file even if it exists")

	return cmd
}
