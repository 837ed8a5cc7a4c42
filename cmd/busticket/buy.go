package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"busticket/internal/checkout"
	"busticket/internal/config"
	"busticket/internal/journal"
	"busticket/internal/kafka"
	"busticket/internal/models"
	"busticket/internal/purchase"
)

var errAborted = errors.New("purchase aborted")

type buyFlags struct {
	commonFlags
	quantity int
	seats    []string
	yes      bool
	form     purchase.Form
	passport bool
}

func (b *buyFlags) add(fs *pflag.FlagSet) {
	b.commonFlags.add(fs)
	fs.IntVarP(&b.quantity, "quantity", "q", 1, "number of seats to buy")
	fs.StringSliceVarP(&b.seats, "seats", "s", nil, "seats to select up front, e.g. 3A,3B")
	fs.BoolVarP(&b.yes, "yes", "y", false, "buy as soon as the preselected seats are held, without prompting")

	p := &b.form.Passenger
	fs.StringVar(&p.FirstName, "first-name", "", "passenger first name")
	fs.StringVar(&p.LastName, "last-name", "", "passenger last name")
	fs.StringVar(&p.NationalID, "national-id", "", "11 digit national id")
	fs.BoolVar(&b.passport, "passport", false, "identify with a passport instead of a national id")
	fs.StringVar(&p.PassportNumber, "passport-number", "", "passport number")
	fs.StringVar(&p.Nationality, "nationality", "", "passport nationality")
	fs.StringVar(&p.Email, "email", "", "contact email")
	fs.StringVar(&p.Phone, "phone", "", "contact phone")

	c := &b.form.Payment
	fs.StringVar(&c.CardHolder, "card-holder", "", "name on the card")
	fs.StringVar(&c.CardNumber, "card-number", "", "card number")
	fs.StringVar(&c.Expiry, "expiry", "", "card expiry as MM/YY")
	fs.StringVar(&c.CVV, "cvv", "", "card security code")
}

func runBuy(ctx context.Context, cfg *config.Config, args []string) error {
	var flags buyFlags
	fs := pflag.NewFlagSet("buy", pflag.ContinueOnError)
	flags.add(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: busticket buy <product-id> [flags]")
	}
	flags.form.Passenger.DocumentType = models.DocumentNationalID
	if flags.passport {
		flags.form.Passenger.DocumentType = models.DocumentPassport
	}

	a, err := newApp(ctx, cfg, flags.commonFlags)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := checkout.Options{
		Hold:     cfg.Hold,
		Purchase: cfg.Purchase,
		Receipts: purchase.NewReceiptGenerator(cfg.Purchase.ReceiptSecret),
	}

	store, err := journal.Open(ctx, cfg.Journal.DSN, a.log)
	if err != nil {
		a.log.Warn("DATABASE", fmt.Sprintf("Purchase journal disabled: %v", err))
	} else {
		defer store.Close()
		opts.Journal = store
	}

	var consumer *kafka.SeatStatusConsumer
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.HoldEvents, cfg.Kafka.Topics.SeatStatus, a.log)
		defer producer.Close()
		opts.Publisher = producer

		// Every client sees every seat change, so each one gets its own group.
		groupID := cfg.Kafka.GroupID + "-" + uuid.NewString()[:8]
		consumer = kafka.NewSeatStatusConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.SeatStatus, groupID, a.log)
		defer consumer.Close()
	}

	svc := checkout.NewService(a.client, opts, a.log)
	defer svc.Close()

	if consumer != nil {
		go func() {
			if err := consumer.Run(ctx, svc.HandleSeatStatus); err != nil {
				a.log.Warn("KAFKA", err.Error())
			}
		}()
	}

	session, err := svc.Open(ctx, fs.Arg(0), flags.quantity)
	if err != nil {
		return errors.New(checkout.UserMessage(err))
	}
	defer session.Close()

	product := session.Product()
	fmt.Printf("%s → %s  %s  %.2f per seat\n", product.From, product.To,
		product.DepartureTime.Local().Format("Mon 02 Jan 15:04"), product.Price)
	if !session.SalesOpen() {
		return errors.New(checkout.UserMessage(purchase.ErrSalesClosed))
	}

	go printEvents(ctx, os.Stdout, svc.Notifier().SubscribeToReservation(ctx, session.ReservationID()))

	for _, code := range flags.seats {
		if result, err := session.ToggleSeat(code); err != nil {
			return err
		} else if !result.Changed() {
			fmt.Printf("  seat %s: %s\n", code, result)
		}
	}

	in := readLines(os.Stdin)
	auto := flags.yes
	for {
		if err := chooseSeats(ctx, session, in, os.Stdout, cfg.Hold, auto); err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ninterrupted, releasing seats")
				return errAborted
			}
			return err
		}

		receipt, err := session.Submit(ctx, flags.form)
		if err == nil {
			printReceipt(os.Stdout, receipt, cfg.Purchase.ReceiptDir)
			return nil
		}

		fmt.Println("  " + checkout.UserMessage(err))
		if errors.Is(err, purchase.ErrHoldNotActive) {
			continue
		}
		var subErr *purchase.SubmissionError
		if !errors.As(err, &subErr) || !subErr.HoldLost {
			return err
		}
		// Reselection always needs the passenger.
		auto = false
	}
}

// chooseSeats lets the passenger edit the selection until a complete selection is
// held and confirmed.
func chooseSeats(ctx context.Context, session *checkout.Session, in <-chan string, out io.Writer, holdCfg config.HoldConfig, auto bool) error {
	wait := holdCfg.Debounce + holdCfg.RequestTimeout

	if auto {
		if waitForHold(ctx, session, wait) == models.HoldStateActive {
			return nil
		}
	}

	for {
		renderSnapshot(out, session.Layout(), session.Snapshot())
		fmt.Fprint(out, "seat code to toggle, 'qty N', 'retry', 'buy' or 'quit': ")

		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-in:
			if !ok {
				return errAborted
			}
			line = l
		}

		fields := strings.Fields(line)
		switch {
		case len(fields) == 0:
		case fields[0] == "quit" || fields[0] == "q":
			return errAborted
		case fields[0] == "retry":
			session.Retry()
		case fields[0] == "qty" && len(fields) == 2:
			n, err := strconv.Atoi(fields[1])
			if err == nil {
				err = session.SetQuantity(n)
			}
			if err != nil {
				fmt.Fprintln(out, "  "+checkout.UserMessage(err))
			}
		case fields[0] == "buy":
			snap := session.Snapshot()
			if len(snap.SelectedSeats) != snap.RequestedQuantity {
				fmt.Fprintf(out, "  select %d seat(s) first\n", snap.RequestedQuantity)
				continue
			}
			if waitForHold(ctx, session, wait) == models.HoldStateActive {
				return nil
			}
			fmt.Fprintln(out, "  your seats are not held yet")
		default:
			for _, code := range fields {
				result, err := session.ToggleSeat(code)
				if err != nil {
					return err
				}
				if !result.Changed() {
					fmt.Fprintf(out, "  seat %s: %s\n", code, result)
				}
			}
		}
	}
}

// waitForHold polls until the hold is active or the timeout passes and returns the
// last state seen.
func waitForHold(ctx context.Context, session *checkout.Session, timeout time.Duration) models.HoldState {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		state := session.HoldState()
		if state == models.HoldStateActive {
			return state
		}
		select {
		case <-ctx.Done():
			return state
		case <-deadline.C:
			return session.HoldState()
		case <-ticker.C:
		}
	}
}

func printEvents(ctx context.Context, out io.Writer, events <-chan models.HoldEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case models.HoldEventConflict, models.HoldEventError:
				takenStyle.Fprintf(out, "\n  %s\n", e.Message)
			case models.HoldEventReselect:
				takenStyle.Fprintf(out, "\n  please reselect, still selected: %s\n", strings.Join(e.Seats, ", "))
			case models.HoldEventInventoryUpdate:
				if len(e.Seats) > 0 {
					takenStyle.Fprintf(out, "\n  seats %s were taken by someone else\n", strings.Join(e.Seats, ", "))
				}
			case models.HoldEventStateChanged:
				if e.State == models.HoldStateActive {
					selectedStyle.Fprintln(out, "\n  seats held")
				}
			}
		}
	}
}

func printReceipt(out io.Writer, r *purchase.Receipt, dir string) {
	selectedStyle.Fprintf(out, "\nBooked! PNR %s\n", r.PNR)
	fmt.Fprintf(out, "  %s, %s → %s, %s\n", r.Passenger, r.From, r.To, r.DepartureTime.Local().Format("Mon 02 Jan 15:04"))
	fmt.Fprintf(out, "  seats %s, total %.2f\n", strings.Join(r.Seats, ", "), r.Total)
	if path, err := r.WriteQR(dir); err == nil {
		fmt.Fprintf(out, "  boarding QR code saved to %s\n", path)
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return lines
}
