package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/quantumauth-io/quantum-go-drm/drm"
	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/status"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Replay-protected policy backed by a monotonic counter",
		Commands: []*cli.Command{
			replayStep("init", "Create a policy and store its blob", true,
				(*drm.ReplayProtected).InitBlob),
			replayStep("perform", "Run the protected function", false,
				(*drm.ReplayProtected).PerformFunctionBlob),
			replayStep("update", "Rotate the secret and bump the release", false,
				(*drm.ReplayProtected).UpdateSecretBlob),
			replayStep("delete", "Destroy the counter; the stored blob becomes a tombstone", false,
				(*drm.ReplayProtected).DeleteSecretBlob),
			showCommand(),
			{
				Name:   "demo",
				Usage:  "Run the whole lifecycle in one process",
				Action: runReplayDemo,
			},
		},
	}
}

type replayFn func(s *drm.ReplayProtected, ctx context.Context, blob []byte) error

func replayStep(name, usage string, fresh bool, fn replayFn) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				s := drm.NewReplayProtected(ctx, a.loader, a.caps, drm.WithEnclaveName(a.cfg.Enclave.Name))
				defer s.Close()
				return runStep(ctx, cmd, a, "replay "+name, fresh, s.BlobLength(),
					func(ctx context.Context, blob []byte) error { return fn(s, ctx, blob) })
			})
		},
	}
}

// runStep loads the blob (or starts from a zeroed one), runs op on it and
// stores the result when op succeeds.
func runStep(ctx context.Context, cmd *cli.Command, a *app, what string, fresh bool, size int,
	op func(ctx context.Context, blob []byte) error) error {
	key := cmd.String("key")

	var blob []byte
	if fresh {
		blob = make([]byte, size)
	} else {
		b, err := a.store.Load(ctx, key)
		if err != nil {
			return errors.Wrapf(err, "load policy %q", key)
		}
		blob = b
	}

	opErr := op(ctx, blob)
	if opErr == nil {
		if err := a.store.Save(ctx, key, blob); err != nil {
			log.Error("drmctl: policy advanced but the new blob was not stored", "key", key, "err", err)
			return errors.Wrapf(err, "save policy %q", key)
		}
	}
	return report(cmd, what, opErr)
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Print the stored blob's size and digest",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
				key := cmd.String("key")
				blob, err := a.store.Load(ctx, key)
				if err != nil {
					return errors.Wrapf(err, "load policy %q", key)
				}
				sum := sha256.Sum256(blob)
				fmt.Fprintf(cmd.Root().Writer, "key:    %s\nbytes:  %d\nsha256: %s\n",
					key, len(blob), hex.EncodeToString(sum[:]))
				return nil
			})
		},
	}
}

type demoStep struct {
	what string
	run  func(ctx context.Context) error
	want status.Status
}

func runDemo(ctx context.Context, cmd *cli.Command, steps []demoStep) error {
	w := cmd.Root().Writer
	for _, st := range steps {
		got := status.FromError(st.run(ctx))
		fmt.Fprintf(w, "%-24s %s\n", st.what, got.Message())
		if got != st.want {
			return cli.Exit(fmt.Sprintf("%s: got 0x%04x, want 0x%04x", st.what, uint32(got), uint32(st.want)), 1)
		}
	}
	return nil
}

func runReplayDemo(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(ctx context.Context, a *app) error {
		s := drm.NewReplayProtected(ctx, a.loader, a.caps, drm.WithEnclaveName(a.cfg.Enclave.Name))
		defer s.Close()

		snapshot := make([]byte, s.BlobLength())
		return runDemo(ctx, cmd, []demoStep{
			{"init", s.Init, status.Success},
			{"perform", s.PerformFunction, status.Success},
			{"snapshot", func(context.Context) error { return s.GetActivityLog(snapshot) }, status.Success},
			{"perform", s.PerformFunction, status.Success},
			{"perform old blob", func(ctx context.Context) error {
				return s.PerformFunctionBlob(ctx, append([]byte(nil), snapshot...))
			}, status.ReplayDetected},
			{"update", s.UpdateSecret, status.Success},
			{"perform", s.PerformFunction, status.Success},
			{"delete", s.DeleteSecret, status.Success},
			{"perform deleted", s.PerformFunction, status.ReplayDetected},
		})
	})
}
