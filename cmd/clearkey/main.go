// Command clearkey answers clearkey license requests and runs the simulated
// key exchange from the command line.
//
//	clearkey license [-keys file] [-policy reject|omit] [request.json]
//	clearkey simulate [-audio tag] [-video tag] [-base-url url]
//	clearkey keys [-keys file]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"emeharness/internal/clearkey"
	"emeharness/internal/infrastructure"
	"emeharness/internal/keytable"
	"emeharness/internal/mediasource"
	"emeharness/internal/services"
)

// Exit codes
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitNotUsable = 3
)

const maxRequestSize = 64 << 10

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type common struct {
	keysFile string
	policy   string
	logLevel string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.keysFile, "keys", "", "YAML key file extending the compiled-in keys")
	fs.StringVar(&c.policy, "policy", string(clearkey.PolicyReject), "unknown key policy: reject or omit")
	fs.StringVar(&c.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
}

func (c *common) licenseService(logger *slog.Logger) (*services.LicenseService, *keytable.Table, error) {
	keys, err := keytable.Load(c.keysFile)
	if err != nil {
		return nil, nil, err
	}
	policy, err := clearkey.ParsePolicy(c.policy)
	if err != nil {
		return nil, nil, err
	}
	responder := clearkey.NewResponder(keys, clearkey.WithPolicy(policy), clearkey.WithLogger(logger))
	return services.NewLicenseService(responder, keys, nil, nil, logger), keys, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "license":
		return runLicense(ctx, args[1:], stdin, stdout, stderr)
	case "simulate":
		return runSimulate(ctx, args[1:], stdout, stderr)
	case "keys":
		return runKeys(ctx, args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "clearkey: unknown command %q\n", args[0])
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  clearkey license [-keys file] [-policy reject|omit] [request.json]")
	fmt.Fprintln(w, "  clearkey simulate [-audio tag] [-video tag] [-base-url url] [-chunk-size n]")
	fmt.Fprintln(w, "  clearkey keys [-keys file]")
}

func runLicense(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("license", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	in := stdin
	if path := fs.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(stderr, "clearkey: %v\n", err)
			return exitError
		}
		defer f.Close()
		in = f
	}
	payload, err := io.ReadAll(io.LimitReader(in, maxRequestSize+1))
	if err != nil {
		fmt.Fprintf(stderr, "clearkey: read request: %v\n", err)
		return exitError
	}
	if len(payload) > maxRequestSize {
		fmt.Fprintf(stderr, "clearkey: request exceeds %d bytes\n", maxRequestSize)
		return exitError
	}

	logger := infrastructure.NewLogger(stderr, c.logLevel)
	svc, _, err := c.licenseService(logger)
	if err != nil {
		fmt.Fprintf(stderr, "clearkey: %v\n", err)
		return exitUsage
	}

	license, err := svc.Respond(ctx, payload)
	if err != nil {
		fmt.Fprintf(stderr, "clearkey: %v\n", err)
		return exitError
	}
	fmt.Fprintln(stdout, string(license))
	return exitOK
}

func runSimulate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c common
	c.register(fs)
	audio := fs.String("audio", string(mediasource.FullEncryption), "audio content: fullEncryption, subsampleEncryption, clear, none")
	video := fs.String("video", string(mediasource.FullEncryption), "video content: fullEncryption, subsampleEncryption, none")
	baseURL := fs.String("base-url", "", "load the selected media from this base URL after the key exchange")
	chunkSize := fs.Int64("chunk-size", 0, "fetch media in ranged chunks of this many bytes (0 fetches whole files)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	logger := infrastructure.NewLogger(stderr, c.logLevel)
	license, keys, err := c.licenseService(logger)
	if err != nil {
		fmt.Fprintf(stderr, "clearkey: %v\n", err)
		return exitUsage
	}
	sim := services.NewSimulationService(license, keys, logger,
		services.WithLoaderOptions(mediasource.WithChunkSize(*chunkSize)))

	report, err := sim.Run(ctx, services.SimulationRequest{
		Audio:        *audio,
		Video:        *video,
		MediaBaseURL: *baseURL,
	})
	if err != nil {
		fmt.Fprintf(stderr, "clearkey: %v\n", err)
		if errors.Is(err, mediasource.ErrUnknownContent) || errors.Is(err, mediasource.ErrClearVideo) ||
			errors.Is(err, mediasource.ErrClearAudioWithoutVideo) || errors.Is(err, mediasource.ErrNothingSelected) {
			return exitUsage
		}
		return exitError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stderr, "clearkey: %v\n", err)
		return exitError
	}
	if !report.AllUsable {
		fmt.Fprintf(stderr, "clearkey: %v\n", services.ErrKeysNotUsable)
		return exitNotUsable
	}
	return exitOK
}

func runKeys(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keys", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	svc, _, err := c.licenseService(infrastructure.NewLogger(stderr, c.logLevel))
	if err != nil {
		fmt.Fprintf(stderr, "clearkey: %v\n", err)
		return exitUsage
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(svc.Keys(ctx)); err != nil {
		fmt.Fprintf(stderr, "clearkey: %v\n", err)
		return exitError
	}
	return exitOK
}
