package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	_ "github.com/mattn/go-sqlite3"
	"github.com/msalopek/swap_relayer/auction"
	"github.com/msalopek/swap_relayer/relayer"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/timelock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	logFormat  string
	configPath string
	dbPath     string
	filePath   string
	state      string
	resolver   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relayerctl",
		Short: "A tool for inspecting and feeding the swap relayer",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Set the logging level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Set the log output format (json or text)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the db file, overrides the config")

	// Load command
	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Validate orders from a file and persist them to the db",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, stack := setupRelayer(cmd.Context())
			defer db.Close()
			defer stack.Close()
			loaded, skipped, err := stack.Relayer.LoadFromFile(cmd.Context(), filePath)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"loaded": loaded, "skipped": skipped})
		},
	}
	loadCmd.Flags().StringVar(&filePath, "file", "", "Orders file")
	loadCmd.MarkFlagRequired("file")

	// Orders command
	ordersCmd := &cobra.Command{
		Use:   "orders",
		Short: "List persisted orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			db := openDB(relayer.MustLoadConfig(configPath))
			defer db.Close()
			if err := relayer.InitDB(db); err != nil {
				return err
			}
			orders, err := relayer.ReadOrders(db, state)
			if err != nil {
				return err
			}
			return printJSON(orders)
		},
	}
	ordersCmd.Flags().StringVar(&state, "state", "", "Only orders in this state")

	// Events command
	eventsCmd := &cobra.Command{
		Use:   "events <order-hash>",
		Short: "Show the state history of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db := openDB(relayer.MustLoadConfig(configPath))
			defer db.Close()
			if err := relayer.InitDB(db); err != nil {
				return err
			}
			events, err := relayer.ReadSwapEvents(db, swap.HexToHash(args[0]).Hex())
			if err != nil {
				return err
			}
			return printJSON(events)
		},
	}

	// Stats command
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show order counts, or a resolver's fill stats with --resolver",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, stack := setupRelayer(cmd.Context())
			defer db.Close()
			defer stack.Close()
			if resolver != "" {
				stats, err := stack.Relayer.GetDbResolverStats(resolver)
				if err != nil {
					return err
				}
				return printJSON(stats)
			}
			counts, err := stack.Relayer.GetDbStateCounts()
			if err != nil {
				return err
			}
			return printJSON(counts)
		},
	}
	statsCmd.Flags().StringVar(&resolver, "resolver", "", "Resolver address")

	rootCmd.AddCommand(loadCmd, ordersCmd, eventsCmd, statsCmd, curveCmd(), timelockCmd(), secretCmd(), suggestCmd(), watchCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func curveCmd() *cobra.Command {
	var p auction.Params
	var step uint64
	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Print the price curve of an auction",
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := auction.Curve(p, step)
			if err != nil {
				return err
			}
			for _, pt := range points {
				fmt.Printf("%d\t%s\n", pt.Time, relayer.FormatPrice(pt.Price))
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&p.StartPrice, "start-price", 0, "Worst accepted price, 6 decimals")
	cmd.Flags().Uint64Var(&p.EndPrice, "end-price", 0, "Best price, 6 decimals")
	cmd.Flags().Uint64Var(&p.StartTime, "start", 0, "Auction start, unix seconds")
	cmd.Flags().Uint64Var(&p.Duration, "duration", 300, "Auction duration in seconds")
	cmd.Flags().Uint64Var(&step, "step", 30, "Sampling step in seconds")
	return cmd
}

func timelockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timelock",
		Short: "Pack or unpack timelocks",
	}

	var d timelock.Durations
	encodeCmd := &cobra.Command{
		Use:   "encode",
		Short: "Pack stage offsets into a timelocks word",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := d.Validate(); err != nil {
				return err
			}
			fmt.Println(timelock.Encode(d).String())
			return nil
		},
	}
	encodeCmd.Flags().Uint32Var(&d.SrcWithdrawal, "src-withdrawal", 0, "")
	encodeCmd.Flags().Uint32Var(&d.SrcPublicWithdrawal, "src-public-withdrawal", 0, "")
	encodeCmd.Flags().Uint32Var(&d.SrcCancellation, "src-cancellation", 0, "")
	encodeCmd.Flags().Uint32Var(&d.SrcPublicCancellation, "src-public-cancellation", 0, "")
	encodeCmd.Flags().Uint32Var(&d.DstWithdrawal, "dst-withdrawal", 0, "")
	encodeCmd.Flags().Uint32Var(&d.DstPublicWithdrawal, "dst-public-withdrawal", 0, "")
	encodeCmd.Flags().Uint32Var(&d.DstCancellation, "dst-cancellation", 0, "")

	var deployedAt uint64
	decodeCmd := &cobra.Command{
		Use:   "decode <packed>",
		Short: "Show the offsets and deadlines of a timelocks word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			packed, err := uint256.FromHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid timelocks %q: %w", args[0], err)
			}
			t := timelock.FromInt(packed)
			at := deployedAt
			if at == 0 {
				at = uint64(t.DeployedAt())
			}
			deadlines := timelock.Decode(t, at)
			return printJSON(map[string]any{
				"durations":   t.Durations(),
				"deployed_at": at,
				"src":         deadlines.Src(),
				"dst":         deadlines.Dst(),
			})
		},
	}
	decodeCmd.Flags().Uint64Var(&deployedAt, "deployed-at", 0, "Deployment time, defaults to the packed value")

	cmd.AddCommand(encodeCmd, decodeCmd)
	return cmd
}

func secretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Generate a secret and its hashlock",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := swap.NewSecret()
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"secret": s.String(), "hashlock": s.Hashlock().Hex()})
		},
	}
}

func suggestCmd() *cobra.Command {
	var base, quote string
	var slippage, duration uint64
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest auction prices from the market rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := relayer.MustLoadConfig(configPath)
			feed := relayer.NewPriceFeed(cfg.PriceFeed, &log.Logger)
			rate, err := feed.Rate(cmd.Context(), base, quote)
			if err != nil {
				return err
			}
			p, err := relayer.SuggestAuction(rate, slippage, uint64(time.Now().Unix()), duration)
			if err != nil {
				return err
			}
			log.Info().
				Str("market_rate", rate.String()).
				Str("start_price", relayer.FormatPrice(p.StartPrice)).
				Str("end_price", relayer.FormatPrice(p.EndPrice)).
				Msg("suggested auction")
			return printJSON(p)
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "Price feed id of the maker asset")
	cmd.Flags().StringVar(&quote, "quote", "", "Price feed id of the taker asset")
	cmd.Flags().Uint64Var(&slippage, "slippage-bps", 50, "Distance of the start price below the market rate")
	cmd.Flags().Uint64Var(&duration, "duration", 300, "Auction duration in seconds")
	cmd.MarkFlagRequired("base")
	cmd.MarkFlagRequired("quote")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print relayer announcements from redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := relayer.MustLoadConfig(configPath)
			if cfg.Redis.URL == "" {
				return fmt.Errorf("redis url is not configured, set %s", relayer.EnvRedisURL)
			}
			client, err := relayer.NewRedisClient(cfg.Redis.URL)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = relayer.SubscribeAnnouncements(ctx, client, cfg.Redis.Channel, &log.Logger, func(a relayer.JsonAnnouncement) {
				log.Info().
					Str("kind", a.Kind).
					Str("order", a.OrderHash).
					Str("state", a.State).
					Str("resolver", a.Resolver).
					Uint64("at", a.At).
					Msg("announcement")
			})
			if err != nil {
				return err
			}
			log.Info().Str("channel", cfg.Redis.Channel).Msg("watching announcements")
			<-ctx.Done()
			return nil
		},
	}
}

func setupLogging() {
	// Set up logging
	if logFormat == "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		output := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
		output.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		}
		output.FormatMessage = func(i interface{}) string {
			return fmt.Sprintf("message: %s", i)
		}
		output.FormatFieldName = func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		}
		output.FormatFieldValue = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%s", i))
		}
		log.Logger = log.Output(output)
	}

	// Set log level
	switch strings.TrimSpace(strings.ToUpper(logLevel)) {
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "INFO":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func openDB(cfg *relayer.Config) *sql.DB {
	path := cfg.DB
	if dbPath != "" {
		path = dbPath
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	return db
}

func setupRelayer(ctx context.Context) (*sql.DB, *relayer.Stack) {
	cfg := relayer.MustLoadConfig(configPath)
	db := openDB(cfg)
	stack, err := relayer.NewStack(ctx, db, cfg, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
	return db, stack
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
