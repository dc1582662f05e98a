// Command emit writes one command artifact into the outbound directory and
// prints the result. Handy for exercising a venue adapter by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"signal_bridge/internal/modules/bridge/service"
)

// flags copied into the command params when set on the command line or in
// the environment (EMIT_<NAME>, dashes as underscores).
var paramFlags = map[string]string{
	"id":         "id",
	"signal":     "signal",
	"symbol":     "symbol",
	"side":       "side",
	"order-type": "orderType",
	"qty":        "qty",
	"price":      "price",
	"sl":         "stopLoss",
	"tp":         "takeProfit",
	"account":    "account",
}

func main() {
	flags := pflag.NewFlagSet("emit", pflag.ExitOnError)
	flags.String("cmd", "OPEN", "command kind: OPEN, CLOSE or MODIFY")
	flags.String("dir", "bridge/outbound", "outbound directory")
	flags.String("channel", "", "channel tag")
	flags.String("default-symbol", "GC", "symbol used when --symbol is not set")
	flags.String("id", "", "command id (generated when empty)")
	flags.String("signal", "", "signal id")
	flags.String("symbol", "", "instrument")
	flags.String("side", "", "BUY or SELL")
	flags.String("order-type", "", "MARKET, LIMIT, STOP or STOP_LIMIT")
	flags.String("qty", "", "contracts")
	flags.String("price", "", "limit/stop price")
	flags.String("sl", "", "stop-loss")
	flags.String("tp", "", "take-profit")
	flags.String("account", "", "venue account")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvPrefix("emit")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Errorf("bind flags: %w", err))
	}

	params := service.Params{}
	for flag, key := range paramFlags {
		if val := v.GetString(flag); val != "" {
			params[key] = val
		}
	}

	out, err := service.NewDirOutbox(afero.NewOsFs(), v.GetString("dir"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	emitter := service.NewEmitter(out, service.EmitterConfig{
		DefaultSymbol: v.GetString("default-symbol"),
	}, nil)

	ctx := context.Background()
	var res service.Result
	switch strings.ToUpper(v.GetString("cmd")) {
	case "OPEN":
		res, err = emitter.Open(ctx, params, v.GetString("channel"))
	case "CLOSE":
		res, err = emitter.Close(ctx, params, v.GetString("channel"))
	case "MODIFY":
		res, err = emitter.Modify(ctx, params, v.GetString("channel"))
	default:
		params["cmd"] = v.GetString("cmd")
		res, err = emitter.Emit(ctx, params, v.GetString("channel"))
	}

	bs, mErr := yaml.Marshal(res)
	if mErr != nil {
		panic(fmt.Errorf("marshal result: %w", mErr))
	}
	fmt.Print(string(bs))
	if err != nil {
		os.Exit(1)
	}
}
