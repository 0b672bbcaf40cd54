package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stream-polyglot/voiceline/clients"
	cfg "github.com/stream-polyglot/voiceline/config"
	"github.com/stream-polyglot/voiceline/logging"
	"github.com/stream-polyglot/voiceline/metrics"
	"github.com/stream-polyglot/voiceline/orchestrator"
)

var (
	configPath string
	v          = viper.New()
)

// app is what every subcommand needs.
type app struct {
	conf    *cfg.Root
	log     *logrus.Logger
	metrics *metrics.Recorder
}

func setup() (*app, error) {
	conf, err := cfg.Load(configPath, v)
	if err != nil {
		return nil, err
	}
	log, err := logging.Setup(conf.Pipeline.LogLvl, conf.Logging)
	if err != nil {
		return nil, err
	}
	return &app{conf: conf, log: log, metrics: metrics.New()}, nil
}

// withPipeline runs fn against a pipeline built from config and closes it.
func withPipeline(fn func(ctx context.Context, a *app, p *orchestrator.Pipeline) error) error {
	a, err := setup()
	if err != nil {
		return err
	}
	p, err := orchestrator.FromConfig(a.conf, a.log, a.metrics)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = fn(ctx, a, p)
	if cerr := p.Close(); err == nil {
		err = cerr
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func segmentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "segment <audio.wav>",
		Short: "Split a recording into speech fragments (cached)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(func(ctx context.Context, a *app, p *orchestrator.Pipeline) error {
				tl, dir, _, err := p.Segment(ctx, args[0])
				if err != nil {
					return err
				}
				a.log.WithField("fragments_dir", dir).Info("segmentation ready")
				return printJSON(tl)
			})
		},
	}
}

func clusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster <audio.wav>",
		Short: "Group a recording's fragments by speaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(func(ctx context.Context, _ *app, p *orchestrator.Pipeline) error {
				an, err := p.Analyze(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"speakers": an.Clusters.Summary(),
					"clusters": an.Clusters,
				})
			})
		},
	}
}

func referenceCmd() *cobra.Command {
	var start, end float64
	var out string
	cmd := &cobra.Command{
		Use:   "reference <audio.wav>",
		Short: "Pick reference audio for one time window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if end <= start {
				return errors.New("--end must be after --start")
			}
			return withPipeline(func(ctx context.Context, _ *app, p *orchestrator.Pipeline) error {
				an, err := p.Analyze(ctx, args[0])
				if err != nil {
					return err
				}
				ref, err := p.Reference(an, orchestrator.Utterance{Start: start, End: end}, out)
				if err != nil {
					return err
				}
				return printJSON(ref)
			})
		},
	}
	cmd.Flags().Float64Var(&start, "start", 0, "window start in seconds")
	cmd.Flags().Float64Var(&end, "end", 0, "window end in seconds")
	cmd.Flags().StringVar(&out, "out", "", "write the concatenated reference WAV here")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func runCmd() *cobra.Command {
	var srt string
	cmd := &cobra.Command{
		Use:   "run <audio.wav>",
		Short: "Segment, cluster and select references for every cue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(func(ctx context.Context, _ *app, p *orchestrator.Pipeline) error {
				res, err := p.Run(ctx, args[0], srt)
				if err != nil {
					return err
				}
				fmt.Println(res.Dir)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&srt, "srt", "", "subtitle file; without it every fragment gets a reference")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the configured services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			h := clients.NewHTTP(cfg.DurSeconds(a.conf.Services.TimeoutSeconds), 0, a.log, a.metrics)
			var failed int
			for _, s := range []struct {
				name string
				url  string
			}{
				{"vad", a.conf.Services.VAD.URL},
				{"embedding", a.conf.Services.Embedding.URL},
				{"separation", a.conf.Services.Separation.URL},
			} {
				log := a.log.WithFields(logrus.Fields{"service": s.name, "url": s.url})
				if err := h.Health(cmd.Context(), s.name, s.url); err != nil {
					log.WithError(err).Error("unhealthy")
					failed++
					continue
				}
				log.Info("healthy")
			}
			if failed > 0 {
				return fmt.Errorf("%d service(s) unhealthy", failed)
			}
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:           "voiceline",
		Short:         "Speaker-aware reference audio for dubbing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default config/$CONFIG_ENV/config.yaml or config.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level")
	_ = v.BindPFlag("pipeline.log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(segmentCmd(), clusterCmd(), referenceCmd(), runCmd(), healthCmd())
	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
