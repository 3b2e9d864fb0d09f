package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/conncall"
	"github.com/meigma/conncall/cmd/conncall/cli/config"
	"github.com/meigma/conncall/internal/script"
)

var cancelAfter time.Duration

var simulateCmd = &cobra.Command{
	Use:     "simulate <script.yaml>...",
	Short:   "Run scripted connections concurrently",
	GroupID: "core",
	Long: `Simulate starts one connection per script and runs them concurrently.

Progress notifications are drawn as progress bars on a terminal, or printed
as plain lines to stderr otherwise. When every connection has concluded, one
line per connection is printed to stdout: "ok" for a completion, "FAIL" for a
failure. The command exits non-zero if any connection failed.

Examples:
  conncall simulate upload.yaml
  conncall simulate --workers 4 --progress plain scripts/*.yaml
  conncall simulate --timeout 100ms --metrics slow.yaml`,
	Args:              cobra.MinimumNArgs(1),
	RunE:              runSimulate,
	ValidArgsFunction: completeScripts,
}

func init() {
	f := simulateCmd.Flags()
	f.Duration("timeout", 60*time.Second, "Connection timeout (0 disables)")
	f.Int("workers", 1, "Number of delivery lanes running handlers")
	f.String("progress", config.ProgressAuto, "Progress display: auto, tty or plain")
	f.Bool("metrics", false, "Print Prometheus metrics after the run")
	f.DurationVar(&cancelAfter, "cancel-after", 0, "Cancel every connection after this long")

	cobra.CheckErr(viper.BindPFlag("timeout", f.Lookup("timeout")))
	cobra.CheckErr(viper.BindPFlag("delivery.workers", f.Lookup("workers")))
	cobra.CheckErr(viper.BindPFlag("progress", f.Lookup("progress")))
	cobra.CheckErr(viper.BindPFlag("metrics", f.Lookup("metrics")))

	rootCmd.AddCommand(simulateCmd)
}

// outcome is the terminal notification recorded for one script.
type outcome struct {
	conn *conncall.Connection
	resp *conncall.Response
	err  error
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	scripts := make([]*script.Script, len(args))
	names := make([]string, len(args))
	for i, path := range args {
		s, loadErr := script.Load(path)
		if loadErr != nil {
			return loadErr
		}
		scripts[i] = s
		names[i] = s.Name
	}

	var (
		reg        *prometheus.Registry
		registerer prometheus.Registerer
	)
	if cfg.Metrics {
		reg = prometheus.NewRegistry()
		registerer = reg
	}

	client, err := newClient(cfg, registerer)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	if cancelAfter > 0 {
		timer := time.AfterFunc(cancelAfter, cancel)
		defer timer.Stop()
	}

	view := newDisplay(cfg.Progress, cmd.ErrOrStderr(), names)
	outcomes := make([]outcome, len(scripts))
	for i, s := range scripts {
		conn, startErr := client.Start(ctx, s.Request(), s.Driver(), conncall.Handlers{
			Progress: func(c *conncall.Connection) {
				view.progress(i, c.Progress())
			},
			Completion: func(resp *conncall.Response) {
				outcomes[i].resp = resp
				view.done(i)
			},
			Failure: func(err error) {
				outcomes[i].err = err
				view.done(i)
			},
		})
		if startErr != nil {
			_ = client.Close()
			return startErr
		}
		outcomes[i].conn = conn
	}

	for i := range outcomes {
		<-outcomes[i].conn.Done()
	}
	if err := client.Close(); err != nil {
		return err
	}
	view.finish()

	out := cmd.OutOrStdout()
	failed := 0
	for i, o := range outcomes {
		if o.err != nil {
			failed++
		}
		printOutcome(out, names[i], o)
	}

	if reg != nil {
		if err := writeMetrics(out, reg); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d connections failed", failed, len(outcomes))
	}
	return nil
}

func printOutcome(w io.Writer, name string, o outcome) {
	sent := humanize.Bytes(safeUint64(o.conn.BytesSent()))
	received := humanize.Bytes(safeUint64(o.conn.BytesReceived()))
	if o.err != nil {
		fmt.Fprintf(w, "FAIL %s: %v\n", name, o.err)
		return
	}
	elapsed := o.resp.ReceivedAt().Sub(o.conn.StartedAt()).Round(time.Millisecond)
	fmt.Fprintf(w, "ok   %s %d sent=%s received=%s body=%s %s %s\n",
		name, o.resp.StatusCode(), sent, received,
		humanize.Bytes(safeUint64(int64(o.resp.Len()))), o.resp.Digest().Encoded()[:12], elapsed)
}

// writeMetrics prints every gathered metric family in the text exposition format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
