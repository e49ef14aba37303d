package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mendersoftware/progressbar"
	"github.com/urfave/cli"

	"github.com/mender-core/agent/artifact"
	"github.com/mender-core/agent/internal/logging"
)

var log = logging.For("cli")

func main() {
	app := cli.NewApp()
	app.Name = "artifact-core"
	app.Usage = "inspect and verify mender-style update artifacts"
	app.Version = "1.0.0"
	app.Commands = []cli.Command{
		inspectCommand,
		verifyCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

var inspectCommand = cli.Command{
	Name:      "inspect",
	Usage:     "print an artifact's header-info and provides/depends",
	ArgsUsage: "<artifact-file>",
	Action:    runInspect,
}

var verifyCommand = cli.Command{
	Name:      "verify",
	Usage:     "validate checksums and, if a key is given, the artifact signature",
	ArgsUsage: "<artifact-file>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "key", Usage: "PEM-encoded public key to verify the signature against"},
	},
	Action: runVerify,
}

func openArtifact(args cli.Args) (*os.File, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one artifact file argument")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	return f, nil
}

func runInspect(c *cli.Context) error {
	f, err := openArtifact(c.Args())
	if err != nil {
		return err
	}
	defer f.Close()

	r := artifact.NewReader(f)
	view, err := r.ReadHeader()
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	fmt.Printf("Provides:\n")
	for k, v := range view.GetProvides() {
		fmt.Printf("  %s: %s\n", k, v)
	}
	fmt.Printf("Depends:\n")
	for k, v := range view.GetDepends() {
		fmt.Printf("  %s: %v\n", k, v)
	}
	return nil
}

func runVerify(c *cli.Context) error {
	f, err := openArtifact(c.Args())
	if err != nil {
		return err
	}
	defer f.Close()

	opts := []artifact.Option{artifact.WithSignaturePolicy(artifact.SignatureSkip)}
	if keyPath := c.String("key"); keyPath != "" {
		pemBytes, err := os.ReadFile(keyPath)
		if err != nil {
			return fmt.Errorf("reading key: %w", err)
		}
		verifier, err := artifact.NewRSAVerifier(pemBytes)
		if err != nil {
			return fmt.Errorf("loading verifier: %w", err)
		}
		opts = []artifact.Option{
			artifact.WithSignaturePolicy(artifact.SignatureVerify),
			artifact.WithVerifiers(verifier),
		}
	}

	r := artifact.NewReader(f, opts...)
	if _, err := r.ReadHeader(); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	bar := progressbar.New(100)
	bar.Start()
	defer bar.Finish()

	payloads := r.Payloads()
	var totalBytes int64
	for {
		chunk, err := payloads.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
		n, err := io.Copy(io.Discard, chunk.Body)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", chunk.Name, err)
		}
		totalBytes += n
		bar.Set(int((totalBytes / (1 << 20)) % 100))
	}

	fmt.Printf("OK: %d bytes verified\n", totalBytes)
	return nil
}
