package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/quantumauth-io/quantum-go-drm/enclave"
)

func enclaveCommand() *cli.Command {
	return &cli.Command{
		Name:  "enclave",
		Usage: "Manage enclave signing keys and sigstructs",
		Commands: []*cli.Command{
			enclaveKeygenCommand(),
			enclaveSignCommand(),
		},
	}
}

func enclaveKeygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate an ML-DSA-65 enclave signing key",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Usage:    "private key file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "pub",
				Usage:    "public key file the loader is configured with",
				Required: true,
			},
		},
		Action: runEnclaveKeygen,
	}
}

func runEnclaveKeygen(_ context.Context, cmd *cli.Command) error {
	key, err := enclave.GenerateSignerKey()
	if err != nil {
		return err
	}
	defer key.Zeroize()

	if err := enclave.WriteSignerKey(cmd.String("out"), key, false); err != nil {
		return err
	}
	if err := enclave.WriteSignerKey(cmd.String("pub"), key, true); err != nil {
		return err
	}
	id := enclave.SignerID(key.Pub)
	fmt.Fprintf(cmd.Root().Writer, "signer id: %x\n", id[:])
	return nil
}

func enclaveSignCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "Sign an enclave artifact, writing <artifact>" + enclave.SigStructSuffix,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "signer",
				Usage:    "private key file from keygen",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "artifact",
				Usage:    "enclave artifact to sign",
				Required: true,
			},
			&cli.UintFlag{
				Name:  "product",
				Usage: "product id",
				Value: 1,
			},
			&cli.UintFlag{
				Name:  "svn",
				Usage: "security version; blobs sealed by a higher version are not readable by lower ones",
				Value: 1,
			},
		},
		Action: runEnclaveSign,
	}
}

func runEnclaveSign(_ context.Context, cmd *cli.Command) error {
	product, svn := cmd.Uint("product"), cmd.Uint("svn")
	if product > 0xFFFF || svn > 0xFFFF {
		return errors.New("product and svn must fit in 16 bits")
	}

	key, err := enclave.ReadSignerKey(cmd.String("signer"))
	if err != nil {
		return err
	}
	defer key.Zeroize()

	path := cmd.String("artifact")
	artifact, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read artifact %s", path)
	}
	sig, err := enclave.Sign(artifact, uint16(product), uint16(svn), key)
	if err != nil {
		return err
	}
	if err := enclave.WriteSigStruct(path, sig); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "signed %s (product %d, svn %d)\n", path, product, svn)
	return nil
}
