// Command sos salvages index keys out of a damaged checksummed
// SQLite-format database and rebuilds them into a prepared template
// database.
//
//	sos <source> <template> <start-page> [pages-per-txn] [txns-per-checkpoint]
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ppggff/sos"
	"github.com/ppggff/sos/engine"
)

// CLI defines the command-line interface for sos.
var CLI struct {
	Source            string `arg:"" help:"Damaged source database file" type:"existingfile"`
	Template          string `arg:"" help:"Prepared empty template database" type:"existingfile"`
	StartPage         int64  `arg:"" help:"1-based source page to start scanning from (>= 2)"`
	PagesPerTxn       int    `arg:"" optional:"" default:"1024" help:"Commit once a write transaction holds more than this many source pages"`
	TxnsPerCheckpoint int    `arg:"" optional:"" default:"10" help:"Run a full WAL checkpoint once more than this many transactions have committed"`

	Quiet   bool             `help:"Suppress checksum warnings" short:"q"`
	Verbose bool             `help:"Per-cell diagnostics" short:"v"`
	Version kong.VersionFlag `help:"Print version and exit"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("sos"),
		kong.Description("Salvage index keys from a damaged checksummed database into a fresh template."),
		kong.Vars{"version": sos.Version()},
	)

	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run() error {
	if CLI.StartPage < 2 {
		return fmt.Errorf("invalid start page %d: page 1 is the engine header, start at 2 or later", CLI.StartPage)
	}

	log, err := newLogger(CLI.Verbose)
	if err != nil {
		return pkgerrors.Wrap(err, "logger")
	}
	defer log.Sync()
	sugar := log.Sugar()

	src, err := sos.OpenFile(CLI.Source)
	if err != nil {
		return err
	}
	defer src.Close()
	sugar.Infof("source: %s, %d bytes, %d pages", CLI.Source, src.Size(), src.PageCount())

	codec := sos.NewChecksumCodec(CLI.Template, sugar)
	codec.SetSilent(CLI.Quiet)

	db, err := engine.OpenTemplate(CLI.Template, codec)
	if err != nil {
		return pkgerrors.Wrapf(err, "open template %s", CLI.Template)
	}
	defer db.Close()

	r := sos.NewRestorer(src, db, sos.Options{
		StartPage:         CLI.StartPage,
		PagesPerTxn:       CLI.PagesPerTxn,
		TxnsPerCheckpoint: CLI.TxnsPerCheckpoint,
		Log:               sugar,
	})
	if err := r.Run(); err != nil {
		return err
	}

	fmt.Println(r.Metrics().String())
	return nil
}

// newLogger builds a console logger on stdout; the whole diagnostic
// surface of this tool goes to standard output.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
