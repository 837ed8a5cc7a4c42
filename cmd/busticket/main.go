// busticket is the passenger-side client of the ticketing API: it shows seat maps,
// walks through one purchase with a live seat hold, and lists past attempts from the
// local journal.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"busticket/internal/api"
	"busticket/internal/auth"
	"busticket/internal/config"
	"busticket/internal/journal"
	"busticket/internal/logger"
	"busticket/internal/seats"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("no command given")
	}
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "buy":
		return runBuy(ctx, cfg, args[1:])
	case "show":
		return runShow(ctx, cfg, args[1:])
	case "history":
		return runHistory(ctx, cfg, args[1:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `busticket: buy bus tickets with a live seat hold.

Usage:
  busticket show <product-id>
  busticket buy <product-id> [--quantity N] [--seats 3A,3B] [passenger and card flags]
  busticket history [--limit N]

Configuration is read from the environment and an optional .env file
(API_BASE_URL, API_TOKEN, HOLD_*, KAFKA_*, JOURNAL_DSN, RECEIPT_DIR).
`)
}

// commonFlags are accepted by every command.
type commonFlags struct {
	logLevel   string
	tokenCache string
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&c.logLevel, "log-level", "WARN", "log level written to stderr")
	fs.StringVar(&c.tokenCache, "token-cache", "memory", `where client credential tokens are cached: "memory" or "redis"`)
}

// app holds what every command needs to talk to the API.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	client *api.Client
	redis  *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, flags commonFlags) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, log: logger.NewWithWriter(os.Stderr, flags.logLevel)}
	httpClient := &http.Client{Timeout: cfg.API.Timeout}

	var store auth.TokenStore
	if flags.tokenCache == "redis" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.log.Warn("REDIS", fmt.Sprintf("Token cache unavailable, keeping tokens in memory: %v", err))
			a.redis.Close()
			a.redis = nil
		} else {
			store = auth.NewRedisTokenStore(a.redis)
		}
	}

	if cfg.Auth.Token != "" {
		if sub, err := auth.ExtractUserIDFromJWT(cfg.Auth.Token); err == nil {
			a.log.Info("AUTH", "Using API token of "+sub)
		}
	}
	creds := auth.NewProvider(cfg.Auth, httpClient, store, a.log)
	a.client = api.NewClient(cfg.API, httpClient, creds, a.log)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.log.Close()
}

func runShow(ctx context.Context, cfg *config.Config, args []string) error {
	var common commonFlags
	fs := pflag.NewFlagSet("show", pflag.ContinueOnError)
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: busticket show <product-id>")
	}

	a, err := newApp(ctx, cfg, common)
	if err != nil {
		return err
	}
	defer a.Close()

	product, err := a.client.GetProduct(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	layout, err := seats.ParseLayout(product.Layout, product.Rows)
	if err != nil {
		return err
	}

	fmt.Printf("%s → %s  %s  %.2f per seat\n", product.From, product.To,
		product.DepartureTime.Local().Format("Mon 02 Jan 15:04"), product.Price)
	renderSeatMap(os.Stdout, layout, product.TakenSeats, nil)
	fmt.Printf("  %d of %d seats available\n", layout.Capacity()-len(product.TakenSeats), layout.Capacity())
	return nil
}

func runHistory(ctx context.Context, cfg *config.Config, args []string) error {
	var limit int
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	fs.IntVarP(&limit, "limit", "n", 20, "number of attempts to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := journal.Open(ctx, cfg.Journal.DSN, logger.NewWithWriter(os.Stderr, "WARN"))
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no purchase attempts yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTRIP\tSEATS\tTOTAL\tSTATUS\tPNR\tNOTE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.ProductID, strings.ReplaceAll(r.Seats, ",", " "),
			r.Total, r.Status, r.PNR, r.Message)
	}
	return w.Flush()
}
