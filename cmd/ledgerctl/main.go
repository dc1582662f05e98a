// Command ledgerctl applies ledger migrations and prints ledger reports as
// YAML.
//
//	ledgerctl migrate
//	ledgerctl stats
//	ledgerctl positions
//	ledgerctl signals [--limit N]
//	ledgerctl history <signal-id>
//	ledgerctl daily-pnl [--days N]
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"signal_bridge/internal/modules/config"
	"signal_bridge/internal/modules/ledger/migrations"
	"signal_bridge/internal/modules/ledger/service/pg"
	"signal_bridge/internal/modules/postgres"
)

func main() {
	flags := pflag.NewFlagSet("ledgerctl", pflag.ExitOnError)
	dsn := flags.String("dsn", "", "postgres DSN (default: DATABASE_DSN or db_dsn from the config file)")
	limit := flags.Int("limit", 20, "signals: how many to show")
	days := flags.Int("days", 30, "daily-pnl: how many days back")
	_ = flags.Parse(os.Args[1:])

	if flags.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ledgerctl [flags] migrate|stats|positions|signals|history <id>|daily-pnl")
		flags.PrintDefaults()
		os.Exit(2)
	}
	if *dsn != "" {
		_ = os.Setenv("DATABASE_DSN", *dsn)
	}

	if err := run(context.Background(), flags.Args(), *limit, *days); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, limit, days int) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	tm, err := postgres.NewTxManager(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "connect ledger")
	}
	defer tm.Close()
	store := pg.New(tm)

	var out interface{}
	switch args[0] {
	case "migrate":
		out, err = migrations.RunPostgres(ctx, tm.Conn())
	case "stats":
		out, err = store.StatsSummary(ctx)
	case "positions":
		out, err = store.ActivePositions(ctx)
	case "signals":
		out, err = store.RecentSignals(ctx, limit)
	case "history":
		if len(args) < 2 {
			return errors.New("history needs a signal id")
		}
		out, err = store.SignalHistory(ctx, args[1])
	case "daily-pnl":
		out, err = store.DailyPnL(ctx, days)
	default:
		return errors.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		return errors.Wrap(err, args[0])
	}
	return render(out)
}

// render prints v as YAML keyed by the JSON field names of the models.
func render(v interface{}) error {
	bs, err := sonic.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	var generic interface{}
	if err := sonic.Unmarshal(bs, &generic); err != nil {
		return errors.Wrap(err, "unmarshal")
	}
	y, err := yaml.Marshal(generic)
	if err != nil {
		return errors.Wrap(err, "marshal yaml")
	}
	fmt.Print(string(y))
	return nil
}
