// Command drmctl runs the replay-protected and time-based DRM flows against a
// configured platform, enclave and blob store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/quantumauth-io/quantum-go-drm/log"
	"github.com/quantumauth-io/quantum-go-drm/status"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		if ec, ok := err.(cli.ExitCoder); ok {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "drmctl",
		Usage: "Replay-protected and time-based DRM policies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "config file (default: ./config.yaml, then the embedded defaults)",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "store key of the sealed policy blob",
				Value: "default",
			},
		},
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Commands: []*cli.Command{
			replayCommand(),
			leaseCommand(),
			enclaveCommand(),
		},
	}
}

// withApp loads the config, sets up logging and runs fn with a ready app.
func withApp(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("drmctl: close failed", "err", err)
		}
	}()
	return fn(ctx, a)
}

// report prints the status message of a DRM operation. Failures become a
// non-zero exit carrying the status.
func report(cmd *cli.Command, what string, err error) error {
	st := status.FromError(err)
	if st.OK() {
		fmt.Fprintf(cmd.Root().Writer, "%s: %s\n", what, st.Message())
		return nil
	}
	msg := fmt.Sprintf("%s: %s (0x%04x)", what, st.Message(), uint32(st))
	if hint := st.Hint(); hint != "" {
		msg += "\n  " + hint
	}
	return cli.Exit(msg, exitCode(st))
}

func exitCode(st status.Status) int {
	switch status.ClassOf(st) {
	case status.ClassPolicyDenial:
		return 2
	case status.ClassUntrustedBlob:
		return 3
	case status.ClassCapabilityAbsent:
		return 4
	}
	return 1
}
