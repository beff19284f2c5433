package main

import (
	"fmt"
	"time"

	"github.com/brojonat/sybilwatch/service/registry"
	"github.com/brojonat/sybilwatch/service/solana"
	"github.com/urfave/cli/v2"
)

func newSolanaClient(c *cli.Context) *solana.Client {
	rpcURL := c.String("rpc-url")
	return solana.NewClient(solana.NewRPCClient(rpcURL), solana.EndpointLabel(rpcURL), nil, newLogger(c))
}

func recordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Capture the current gossip membership into the snapshot directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "gossip-dir",
				Aliases: []string{"g"},
				Usage:   "Directory of gossip snapshot files",
				EnvVars: []string{"GOSSIP_DIR"},
				Value:   "/home/ubuntu/gossip-out",
			},
		},
		Action: func(c *cli.Context) error {
			client := newSolanaClient(c)
			path, nodes, err := client.RecordSnapshot(c.Context, c.String("gossip-dir"), time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Recorded %d nodes to %s\n", nodes, path)
			return nil
		},
	}
}

func fetchValidatorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch-validators",
		Usage: "Write the active validator list from getVoteAccounts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Usage:   "Active validator output file",
				EnvVars: []string{"ACTIVE_VALIDATORS_FILE"},
				Value:   "active_validators.json",
			},
		},
		Action: func(c *cli.Context) error {
			client := newSolanaClient(c)
			validators, err := client.FetchActiveValidators(c.Context)
			if err != nil {
				return err
			}

			out := c.String("out")
			if err := registry.WriteActiveValidators(out, validators); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Wrote %d validators to %s\n", len(validators), out)
			return nil
		},
	}
}
