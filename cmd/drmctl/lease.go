package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/quantumauth-io/quantum-go-drm/drm"
	"github.com/quantumauth-io/quantum-go-drm/policy"
	"github.com/quantumauth-io/quantum-go-drm/status"
)

func leaseCommand() *cli.Command {
	return &cli.Command{
		Name:  "lease",
		Usage: "Time-based policy bounded by trusted time",
		Commands: []*cli.Command{
			leaseStep("init", "Start a lease and store its blob", true, (*drm.TimeBased).InitBlob),
			leaseStep("perform", "Run the protected function if the lease is live", false,
				(*drm.TimeBased).PerformFunctionBlob),
			showCommand(),
			{
				Name:   "demo",
				Usage:  "Start a lease, use it, and wait for it to expire",
				Action: runLeaseDemo,
			},
		},
	}
}

type leaseFn func(s *drm.TimeBased, ctx context.Context, blob []byte) error

func leaseStep(name, usage string, fresh bool, fn leaseFn) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				s := drm.NewTimeBased(ctx, a.loader, a.caps, drm.WithEnclaveName(a.cfg.Enclave.Name))
				defer s.Close()
				return runStep(ctx, cmd, a, "lease "+name, fresh, s.BlobLength(),
					func(ctx context.Context, blob []byte) error { return fn(s, ctx, blob) })
			})
		},
	}
}

func runLeaseDemo(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
		s := drm.NewTimeBased(ctx, a.loader, a.caps, drm.WithEnclaveName(a.cfg.Enclave.Name))
		defer s.Close()

		lease := a.cfg.Policy.LeaseDuration
		if lease <= 0 {
			lease = policy.DefaultLeaseDuration
		}
		// trusted time has one second resolution and the boundary is inclusive
		wait := lease.Truncate(time.Second) + 2*time.Second

		return runDemo(ctx, cmd, []demoStep{
			{"init", s.Init, status.Success},
			{"perform", s.PerformFunction, status.Success},
			{fmt.Sprintf("wait %s", wait), func(ctx context.Context) error {
				select {
				case <-time.After(wait):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}, status.Success},
			{"perform expired", s.PerformFunction, status.LeaseExpired},
		})
	})
}
