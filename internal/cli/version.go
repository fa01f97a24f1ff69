package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lgc202/gateway-kit/version"
)

func newVersionCommand(streams IOStreams) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := version.Get().Render(outputFormat)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(streams.Out, s)
			return err
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "输出格式 (text, json, yaml, short)")
	return cmd
}
