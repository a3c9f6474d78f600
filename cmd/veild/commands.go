package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollowtree/veild"
	"github.com/hollowtree/veild/internal/bootstrap"
	"github.com/hollowtree/veild/internal/material"
	"github.com/hollowtree/veild/internal/probe"
	"github.com/hollowtree/veild/internal/reseed"
	"github.com/hollowtree/veild/internal/rlimit"
)

func newRenderCmd(flags *globalFlags) *cobra.Command {
	var discover bool
	var aggressive bool
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Materialize the daemon configuration artifacts and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log := veild.NewLogger(cfg.LogLevel)

			endpoints := reseed.FallbackEndpoints
			if discover {
				d := reseed.New(probe.NewEndpointProbe(10*time.Second, 20*time.Second, nil), log)
				if len(cfg.Reseed.Candidates) > 0 {
					d.Candidates = cfg.Reseed.Candidates
				}
				endpoints = d.Discover(cmd.Context())
			}

			mode := material.ModeGentle
			if aggressive {
				mode = material.ModeAggressive
			}
			w := &bootstrap.ArtifactWriter{
				TorPath: cfg.Tor.ConfigPath,
				I2PPath: cfg.I2P.ConfigPath,
				Tor: material.TorParams{
					SocksPort: cfg.Tor.SocksPort,
					DataDir:   cfg.Tor.DataDir,
				},
				I2P: material.I2PParams{
					DataDir:       cfg.I2P.DataDir,
					HTTPProxyPort: cfg.I2P.HTTPProxyPort,
					ConsolePort:   cfg.I2P.ConsolePort,
					SAMPort:       cfg.I2P.SAMPort,
					BandwidthKBps: cfg.I2P.BandwidthKBps,
					SharePercent:  cfg.I2P.SharePercent,
				},
			}
			w.ApplyLimits(rlimit.AbsoluteFloor)
			if err := w.WriteTor(); err != nil {
				return err
			}
			if err := w.WriteI2P(mode, reseed.Join(endpoints)); err != nil {
				return err
			}
			log.Info("configs written", "tor", cfg.Tor.ConfigPath, "i2p", cfg.I2P.ConfigPath, "mode", mode.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&discover, "discover", false, "probe reseed candidates instead of using the fallback set")
	cmd.Flags().BoolVar(&aggressive, "aggressive", false, "render the aggressive bootstrap posture")
	return cmd
}

func newReseedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reseed",
		Short: "Discover working reseed endpoints and print the comma-joined list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			// Diagnostics go to stderr via the logger; stdout carries only
			// the endpoint list, safe to pipe into a config template.
			log := veild.NewLogger(cfg.LogLevel)
			d := reseed.New(probe.NewEndpointProbe(10*time.Second, 20*time.Second, nil), log)
			if len(cfg.Reseed.Candidates) > 0 {
				d.Candidates = cfg.Reseed.Candidates
			}
			if cfg.Reseed.Quota > 0 {
				d.Quota = cfg.Reseed.Quota
			}
			fmt.Fprintln(cmd.OutOrStdout(), reseed.Join(d.Discover(cmd.Context())))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the veild version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "veild", version)
		},
	}
}
