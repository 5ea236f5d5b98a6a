package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/unixpickle/ringsync/collcomm"
	"github.com/unixpickle/ringsync/topology"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate every rank and print per-epoch traffic.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		topo, err := topology.New(cfg.Topology())
		if err != nil {
			return err
		}

		recorders := collcomm.MultiRecorder{&collcomm.LogRecorder{Logger: logger}}
		if record, _ := cmd.Flags().GetBool("record"); record {
			if err := os.MkdirAll(cfg.Logging.OutputDir, 0o755); err != nil {
				return errors.Wrap(err, "create output directory")
			}
			sqlite, err := collcomm.OpenSQLiteRecorder(filepath.Join(cfg.Logging.OutputDir,
				"traffic.sqlite3"))
			if err != nil {
				return err
			}
			defer sqlite.Close()
			logger.WithField("run_id", sqlite.RunID()).Info("recording traffic")
			recorders = append(recorders, sqlite)
		}

		registry := prometheus.NewRegistry()
		harness := &collcomm.Harness{
			Topology:            topo,
			Params:              collcomm.Float32Params(cfg.Training.ParameterCount),
			BandwidthLimit:      cfg.Distributed.BandwidthLimit,
			Latency:             cfg.Distributed.Latency,
			Ceiling:             cfg.Distributed.CeilingBytes,
			DistributeRemainder: cfg.Distributed.DistributeRemainder,
			Epochs:              cfg.Training.Epochs(),
			StepsPerEpoch:       cfg.Training.StepsPerEpoch,
			Recorder:            recorders,
			Logger:              logger,
			Metrics:             collcomm.NewMetrics(registry),
		}
		res, err := harness.Run()
		if err != nil {
			return err
		}
		printEpochTable(res)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Bool("record", false, "store traffic in output_dir/traffic.sqlite3")
}

func printEpochTable(res *collcomm.RunResult) {
	fmt.Println("| Epoch | Steps | Traffic (MB) | Overflows | Virtual time (s) |")
	fmt.Println("|:--|:--|:--|:--|:--|")
	for _, epoch := range res.Epochs {
		fmt.Printf(
			"| %d | %d | %s | %d | %s |\n",
			epoch.Epoch+1,
			epoch.Steps,
			strconv.FormatFloat(float64(epoch.Traffic.Total())/collcomm.BytesPerMB, 'f', 2, 64),
			epoch.Overflows,
			strconv.FormatFloat(epoch.Duration, 'f', -1, 64),
		)
	}
	fmt.Printf("\nTotal virtual time: %f s\n", res.Duration)
}
