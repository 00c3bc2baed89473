package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var Version string

func main() {
	if err := newApp().Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "paperctl"
	app.Usage = "Paper trading order execution tools"
	app.Version = Version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "db",
			Usage: "SQLite database path (overrides DB_PATH)",
		},
	}

	app.Commands = []cli.Command{
		quoteCMD,
		commissionCMD,
		depositCMD,
		submitCMD,
		processCMD,
		cancelCMD,
		resubmitCMD,
		positionsCMD,
		reportCMD,
		fetchTicksCMD,
		replayCMD,
	}
	return app
}

var portfolioFlag = cli.StringFlag{
	Name:  "portfolio, p",
	Value: "default",
	Usage: "portfolio ID",
}

var (
	quoteCMD = cli.Command{
		Name:        "quote",
		Usage:       "show live quotes",
		Action:      quoteAction,
		ArgsUsage:   "SYMBOL [SYMBOL...]",
		Description: `Fetch the reference price and market condition of each symbol from Binance futures`,
	}
	commissionCMD = cli.Command{
		Name:   "commission",
		Usage:  "compute the fees of a trade",
		Action: commissionAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "value", Usage: "trade value"},
			cli.StringFlag{Name: "qty", Usage: "share quantity"},
			cli.StringFlag{Name: "side", Value: "BUY", Usage: "BUY or SELL"},
			cli.StringFlag{Name: "model", Usage: "commission model (defaults to COMMISSION_MODEL)"},
		},
	}
	depositCMD = cli.Command{
		Name:   "deposit",
		Usage:  "credit cash to a portfolio",
		Action: depositAction,
		Flags: []cli.Flag{
			portfolioFlag,
			cli.StringFlag{Name: "currency", Usage: "cash currency (defaults to EXECUTION_DEFAULT_CURRENCY)"},
			cli.StringFlag{Name: "amount", Usage: "amount; negative withdraws"},
		},
	}
	submitCMD = cli.Command{
		Name:   "submit",
		Usage:  "submit a PENDING order",
		Action: submitAction,
		Flags: []cli.Flag{
			portfolioFlag,
			cli.StringFlag{Name: "symbol, s", Usage: "instrument symbol"},
			cli.StringFlag{Name: "side", Value: "BUY", Usage: "BUY or SELL"},
			cli.StringFlag{Name: "type, t", Value: "MARKET", Usage: "MARKET, LIMIT, STOP or STOP_LIMIT"},
			cli.StringFlag{Name: "qty, q", Usage: "quantity"},
			cli.StringFlag{Name: "limit", Usage: "limit price"},
			cli.StringFlag{Name: "stop", Usage: "stop price"},
			cli.StringFlag{Name: "currency", Usage: "instrument currency (defaults to EXECUTION_DEFAULT_CURRENCY)"},
		},
	}
	processCMD = cli.Command{
		Name:   "process",
		Usage:  "execute the pending order book once",
		Action: processAction,
		Flags: []cli.Flag{
			cli.StringSliceFlag{Name: "price", Usage: "SYMBOL=PRICE; without any, live quotes are fetched"},
			cli.StringFlag{Name: "condition", Value: "NORMAL", Usage: "market condition for --price quotes"},
		},
		Description: `Run every PENDING order against the given prices or live Binance quotes`,
	}
	cancelCMD = cli.Command{
		Name:      "cancel",
		Usage:     "cancel a PENDING order",
		Action:    cancelAction,
		ArgsUsage: "ORDER_ID",
	}
	resubmitCMD = cli.Command{
		Name:      "resubmit",
		Usage:     "resubmit the unfilled remainder of a PARTIAL order",
		Action:    resubmitAction,
		ArgsUsage: "ORDER_ID",
	}
	positionsCMD = cli.Command{
		Name:   "positions",
		Usage:  "show positions and cash of a portfolio",
		Action: positionsAction,
		Flags:  []cli.Flag{portfolioFlag},
	}
	reportCMD = cli.Command{
		Name:   "report",
		Usage:  "summarize the fills of a portfolio",
		Action: reportAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "portfolio, p", Usage: "portfolio ID; empty reports every portfolio"},
		},
	}
	fetchTicksCMD = cli.Command{
		Name:   "fetch-ticks",
		Usage:  "download candle closes as a tick CSV",
		Action: fetchTicksAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "symbol, s", Value: "ETHUSDT", Usage: "futures symbol"},
			cli.StringFlag{Name: "interval, i", Value: "1m", Usage: "candle interval"},
			cli.StringFlag{Name: "start", Usage: "start date or RFC3339 time (defaults to one day ago)"},
			cli.StringFlag{Name: "end", Usage: "end date or RFC3339 time (defaults to now)"},
			cli.StringFlag{Name: "out, o", Usage: "output file (defaults to data/SYMBOL_INTERVAL_START_to_END.csv)"},
		},
	}
	replayCMD = cli.Command{
		Name:   "replay",
		Usage:  "replay a tick CSV through an in-memory copy of the engine",
		Action: replayAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "ticks", Usage: "tick CSV file"},
			portfolioFlag,
			cli.StringFlag{Name: "cash", Value: "10000", Usage: "starting cash when not copying from the database"},
			cli.StringSliceFlag{Name: "order", Usage: "SIDE:TYPE:SYMBOL:QTY[:PRICE[:STOP]], e.g. SELL:LIMIT:AAPL:10:110"},
			cli.BoolFlag{Name: "from-db", Usage: "start from the portfolio's stored cash, positions and pending orders"},
			cli.BoolFlag{Name: "stop-on-error", Usage: "abort on the first failing batch"},
		},
		Description: `Nothing is written to the database; fills happen in memory at the tick times`,
	}
)
