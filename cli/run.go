package cli

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"mrcrypt/mrcrypt/config"
	"mrcrypt/mrcrypt/crypto"
	"mrcrypt/mrcrypt/engine"
	"mrcrypt/mrcrypt/metrics"
)

// EncryptedSuffix marks files written by the encrypt command and is stripped
// again on decrypt.
const EncryptedSuffix = ".encrypted"

// runtime holds the constructed application graph for one command.
type runtime struct {
	Engine  *engine.Engine
	Logger  *zap.Logger
	Config  config.ConfigProvider
	Metrics metrics.MetricsProvider
}

// withRuntime wires the dependency graph for one command invocation, starts
// lifecycle components (the metrics endpoint), runs fn, and tears down.
func withRuntime(c *cli.Context, fn func(rt *runtime) error) error {
	rt := &runtime{}

	app := fx.New(
		fx.NopLogger,
		fx.Supply(c),
		fx.Provide(newLogger, newProviderParams),
		config.Module,
		metrics.Module,
		crypto.Module,
		engine.Module,
		fx.Populate(&rt.Engine, &rt.Logger, &rt.Config, &rt.Metrics),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(c.Context, 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
		_ = rt.Logger.Sync()
	}()

	return fn(rt)
}

func encryptAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: mrcrypt encrypt [-r region ...] [-e key=value ...] key_id filename", 2)
	}

	encryptionContext, err := parseEncryptionContext(c.StringSlice("encryption-context"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	return withRuntime(c, func(rt *runtime) error {
		opts := engine.EncryptOptions{EncryptionContext: encryptionContext}
		return processPath(c, rt, c.Args().Get(1), true, opts)
	})
}

func decryptAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: mrcrypt decrypt filename", 2)
	}

	return withRuntime(c, func(rt *runtime) error {
		return processPath(c, rt, c.Args().Get(0), false, engine.EncryptOptions{})
	})
}

// parseEncryptionContext converts key=value arguments into an EncryptionContext.
func parseEncryptionContext(entries []string) (crypto.EncryptionContext, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	encryptionContext := make(crypto.EncryptionContext, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid encryption context entry %q, expected key=value", entry)
		}
		encryptionContext[key] = value
	}
	return encryptionContext, nil
}

// processPath dispatches to stdin/stdout, a single file, or a recursive
// directory walk.
func processPath(c *cli.Context, rt *runtime, path string, encryptMode bool, opts engine.EncryptOptions) error {
	if path == "-" {
		return processStream(c, rt, encryptMode, opts)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		outPath := c.String("outfile")
		if outPath == "" {
			outPath = derivedPath(path, encryptMode)
		}
		return processFile(c.Context, rt, path, outPath, encryptMode, opts)
	}

	return filepath.WalkDir(path, func(entryPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if encryptMode && strings.HasSuffix(entryPath, EncryptedSuffix) {
			rt.Logger.Info("skipping already encrypted file", zap.String("path", entryPath))
			return nil
		}
		if !encryptMode && !strings.HasSuffix(entryPath, EncryptedSuffix) {
			rt.Logger.Info("skipping file without encrypted suffix", zap.String("path", entryPath))
			return nil
		}
		return processFile(c.Context, rt, entryPath, derivedPath(entryPath, encryptMode), encryptMode, opts)
	})
}

func processStream(c *cli.Context, rt *runtime, encryptMode bool, opts engine.EncryptOptions) error {
	var out io.Writer = os.Stdout
	if outPath := c.String("outfile"); outPath != "" {
		f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if encryptMode {
		return rt.Engine.Encrypt(c.Context, os.Stdin, out, opts)
	}
	return rt.Engine.Decrypt(c.Context, os.Stdin, out)
}

func processFile(ctx context.Context, rt *runtime, inPath, outPath string, encryptMode bool, opts engine.EncryptOptions) error {
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if encryptMode {
		err = rt.Engine.Encrypt(ctx, in, out, opts)
	} else {
		err = rt.Engine.Decrypt(ctx, in, out)
	}

	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// Don't leave partial output behind
		os.Remove(outPath)
		return fmt.Errorf("%s: %w", inPath, err)
	}

	rt.Logger.Info("processed file",
		zap.String("input", inPath),
		zap.String("output", outPath))
	return nil
}

// derivedPath maps an input path to its output twin: append the encrypted
// suffix on encrypt, strip it on decrypt (or mark the output as decrypted
// when the input never had it).
func derivedPath(path string, encryptMode bool) string {
	if encryptMode {
		return path + EncryptedSuffix
	}
	if strings.HasSuffix(path, EncryptedSuffix) {
		return strings.TrimSuffix(path, EncryptedSuffix)
	}
	return path + ".decrypted"
}
