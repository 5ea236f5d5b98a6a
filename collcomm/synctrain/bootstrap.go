package main

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/unixpickle/ringsync/fault"
	"github.com/unixpickle/ringsync/rendezvous"
	"golang.org/x/sync/errgroup"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Exchange rank addresses through the rendezvous store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		backend, _ := cmd.Flags().GetString("backend")
		job, _ := cmd.Flags().GetString("job")
		rank, _ := cmd.Flags().GetInt("rank")
		local, _ := cmd.Flags().GetInt("local")

		store, closeStore, err := openStore(backend, cfg.Distributed.StorePath, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		store = rendezvous.NewPrefixStore(job+"/", store)

		host := cfg.Distributed.Host
		if cfg.Distributed.UseLocalhost {
			host = "127.0.0.1"
		}
		size := cfg.Topology().NumNodes
		exchange := func(rank int) ([]string, error) {
			e := &rendezvous.Exchange{
				Store:  store,
				Rank:   rank,
				Size:   size,
				Logger: logger.WithField("rank", rank),
			}
			addr := net.JoinHostPort(host, strconv.Itoa(cfg.Distributed.Port+rank))
			return e.Run(addr)
		}

		if local == 0 {
			peers, err := exchange(rank)
			if err != nil {
				return err
			}
			printPeers(peers)
			return nil
		}

		if local != size {
			return fault.Invalid("--local %d does not match the %d configured nodes", local, size)
		}
		results := make([][]string, local)
		var g errgroup.Group
		for r := 0; r < local; r++ {
			r := r
			g.Go(func() error {
				peers, err := exchange(r)
				results[r] = peers
				return errors.Wrapf(err, "rank %d", r)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		printPeers(results[0])
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().String("backend", "file", "rendezvous backend: file or bolt")
	bootstrapCmd.Flags().String("job", "ringsync", "job name used to namespace store keys")
	bootstrapCmd.Flags().Int("rank", 0, "rank of this process")
	bootstrapCmd.Flags().Int("local", 0, "run this many ranks in-process instead of one")
}

func openStore(backend, path string, logger logrus.FieldLogger) (rendezvous.Store, func(), error) {
	switch backend {
	case "file":
		store, err := rendezvous.NewFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "bolt":
		store, err := rendezvous.OpenBoltStore(filepath.Join(path, "rendezvous.db"), logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	return nil, nil, fault.Invalid("unknown rendezvous backend %q", backend)
}

func printPeers(peers []string) {
	for rank, addr := range peers {
		fmt.Printf("rank %d: %s\n", rank, addr)
	}
}
