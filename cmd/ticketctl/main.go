// ticketctl runs maintenance tasks against the configured ticket store.
//
//	ticketctl migrate              apply postgres migrations
//	ticketctl reencrypt [--dry-run] seal sensitive fields still stored as plaintext
//	ticketctl list                 print ticket ids, status and history length
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nico-hl/ticketkp/internal/app"
	"github.com/nico-hl/ticketkp/internal/config"
	"github.com/nico-hl/ticketkp/internal/observability"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		envFile string
		dryRun  bool
	)
	flagSet := pflag.NewFlagSet("ticketctl", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "load variables from this file before reading the environment")
	flagSet.BoolVar(&dryRun, "dry-run", false, "reencrypt: report what would change without writing")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(out, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() != 1 {
		printHelp(out, flagSet)
		if help {
			return nil
		}
		return errors.New("expected exactly one command")
	}

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := flagSet.Arg(0)
	switch command {
	case "migrate":
		if cfg.Storage.Backend != config.BackendPostgres {
			logger.Info("nothing to migrate; schema is created on open", zap.String("backend", cfg.Storage.Backend))
		}
		a, err := app.New(ctx, cfg, logger, app.Options{RunMigrations: true})
		if err != nil {
			return err
		}
		a.Close()
		return nil

	case "reencrypt":
		a, err := app.New(ctx, cfg, logger, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		report, err := a.Tickets.ReencryptLegacy(ctx, dryRun)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "scanned %d, updated %d rows (%d fields), failed %d, corrupt fields %d",
			report.Scanned, report.RowsUpdated, report.FieldsSealed, report.RowsFailed, report.CorruptFields)
		if dryRun {
			fmt.Fprint(out, " [dry run]")
		}
		fmt.Fprintln(out)
		return nil

	case "list":
		a, err := app.New(ctx, cfg, logger, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		tickets, err := a.Tickets.ListTickets(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tHISTORY\tFILES\tCREATED")
		for _, t := range tickets {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				t.ID, t.Status, t.Priority, len(t.History), len(t.Files), t.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	}

	printHelp(out, flagSet)
	return fmt.Errorf("unknown command %q", command)
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(out, "usage: ticketctl [flags] migrate|reencrypt|list")
	fmt.Fprintln(out)
	fmt.Fprint(out, flagSet.FlagUsages())
}
