package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/devsup/internal/engine"
	"github.com/Paintersrp/devsup/internal/instance"
	"github.com/Paintersrp/devsup/internal/launch"
)

const (
	planEphemeralHome = "<ephemeral>"
	planSessionID     = "<session-id>"
)

func newPlanCmd(ctx *context) *cobra.Command {
	var extraArgs []string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the services a run would start, in order, without starting them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadSession()
			if err != nil {
				return err
			}

			ref := instance.Ref{Home: doc.Session.Home, SessionID: planSessionID}
			if ref.Home == "" {
				ref.Home = os.Getenv(instance.HomeEnv)
			}
			if ref.Home == "" {
				ref.Home = planEphemeralHome
				ref.Ephemeral = true
			}

			environ := os.Environ()
			descs, err := launch.Build(doc, ref, launch.Options{Extra: extraArgs, Environ: environ})
			if err != nil {
				return err
			}
			timing := launch.Timing(doc.Session.Timing, launch.TimingOverrides{})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s loaded from %s\n", doc.Session.Name, doc.Source)
			fmt.Fprintf(out, "Home: %s\n", ref.Home)
			fmt.Fprintf(out, "Output: %s  Isolate: %t\n", doc.Session.Output, doc.Session.Isolate)
			fmt.Fprintf(out, "Timing: poll=%s grace=%s tick=%s hard-timeout=%s\n",
				timing.PollInterval, timing.GracePeriod, timing.GraceTick, timing.HardTimeout)
			fmt.Fprintln(out, "Launch order:")
			for i, desc := range descs {
				writePlanEntry(cmd, i+1, desc, environ)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&extraArgs, "arg", nil, "Extra argument appended to every service command (repeatable)")
	return cmd
}

func writePlanEntry(cmd *cobra.Command, index int, desc engine.ServiceDescriptor, environ []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  %d. %s\n", index, desc.Name)
	fmt.Fprintf(out, "     command: %s\n", launch.Describe(desc))
	if desc.Command.Dir != "" {
		fmt.Fprintf(out, "     workdir: %s\n", desc.Command.Dir)
	}
	for _, kv := range launch.DescribeEnv(desc, environ) {
		fmt.Fprintf(out, "     env: %s\n", kv)
	}
}
