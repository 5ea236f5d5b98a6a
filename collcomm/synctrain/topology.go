package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/unixpickle/ringsync/topology"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print the connections of every rank.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		topo, err := topology.New(cfg.Topology())
		if err != nil {
			return err
		}
		fmt.Printf("%s topology, %d nodes, %d rings\n", cfg.Topology().Type, topo.NumNodes(),
			topo.NumRings())
		for rank := 0; rank < topo.NumNodes(); rank++ {
			for _, conn := range topo.ReduceScatterConnections(rank) {
				fmt.Println(conn)
			}
		}
		return nil
	},
}
