package main

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/23skdu/longbow-parity/internal/client"
	"github.com/23skdu/longbow-parity/internal/config"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/report"
	"github.com/23skdu/longbow-parity/internal/suites"
)

// errParityFailed marks a run that completed but found mismatches.
var errParityFailed = errors.New("parity check failed")

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "parity",
		Short:         "Compare operator results between a reference and a target device",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			if loaded.Otel && shutdownTracer == nil {
				shutdown, err := initTracer()
				if err != nil {
					return err
				}
				shutdownTracer = shutdown
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "run [suite...]",
		Short:        "Run suites and report mismatches",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := activeCfg
			if len(args) > 0 {
				cfg.Harness.Suites = args
			}
			return runParity(cmd, cfg)
		},
	}
}

func runParity(cmd *cobra.Command, cfg config.Config) error {
	selected, err := suites.Select(cfg.Harness.Suites...)
	if err != nil {
		return err
	}
	pc, err := cfg.Parity()
	if err != nil {
		return err
	}

	h := parity.New(pc, parity.WithLogger(log.Logger))
	rep := parity.NewRunner(h).Run(cmd.Context(), selected)
	sum := rep.Summary()
	log.Info().
		Str("reference", rep.Reference).
		Str("target", rep.Target).
		Int("suites", sum.Suites).
		Int("cases", sum.Total).
		Int("passed", sum.Passed).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Dur("elapsed", rep.Duration).
		Msg("Parity run complete")

	if err := writeReport(cmd.OutOrStdout(), cfg.Report, rep); err != nil {
		return err
	}

	if cfg.Report.FlightAddr != "" {
		fc, err := client.NewFlightClient(cfg.Report.FlightAddr)
		if err != nil {
			return err
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		up := client.NewUploader(fc, cfg.Report.Dataset, nil, log.Logger)
		if err := up.Upload(cmd.Context(), rep); err != nil {
			log.Error().Err(err).Str("addr", cfg.Report.FlightAddr).Msg("Failed to upload report")
		}
	}

	if !sum.OK(cfg.Harness.AllowUnsupported) {
		return errParityFailed
	}
	return nil
}

// writeReport writes rep in the configured format to the configured file, or to stdout.
func writeReport(stdout io.Writer, rc config.ReportConfig, rep *parity.Report) (err error) {
	w := stdout
	if rc.Output != "" {
		f, cerr := os.Create(rc.Output)
		if cerr != nil {
			return errors.Wrap(cerr, "create report file")
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = errors.Wrap(cerr, "close report file")
			}
		}()
		w = f
	}

	switch rc.Format {
	case config.FormatCBOR:
		return report.WriteCBOR(w, rep)
	case config.FormatArrow:
		rec, err := report.NewRecordBuilder(memory.NewGoAllocator()).Build(rep)
		if err != nil || rec == nil {
			return err
		}
		defer rec.Release()
		return report.WriteIPC(w, rec)
	default:
		return report.WriteText(w, rep, language.English)
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List suites and their case counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := message.NewPrinter(language.English)
			total := 0
			for _, s := range suites.All() {
				n := s.Matrix.Len()
				total += n
				if _, err := p.Fprintf(cmd.OutOrStdout(), "%-28s %5d  %s\n", s.Name, n, s.Description); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), p.Sprintf("%d cases", total))
			return err
		},
	}
}
