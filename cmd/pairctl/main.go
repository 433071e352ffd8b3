// Command pairctl drives the pairing state machine from a terminal.
//
//	pairctl host            issue a token and wait for someone to claim it
//	pairctl join <code|url> claim a token or join URL
//	pairctl dual            host two subjects at once, done when both are paired
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mindsignal/pairing/internal/brokerclient"
	"github.com/mindsignal/pairing/internal/config"
	"github.com/mindsignal/pairing/internal/pairing"
)

const usage = `usage: pairctl <command> [flags]

commands:
  host            issue a pairing token and wait until it is claimed or expires
  join <code|url> claim a pairing token
  dual            host subjects A and B and wait until both are paired
`

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	setLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{
		cfg:    cfg,
		client: brokerclient.New(cfg.APIURL, cfg.HTTPTimeout()),
		out:    os.Stdout,
	}

	switch os.Args[1] {
	case "host":
		err = app.host(ctx, os.Args[2:])
	case "join":
		err = app.join(ctx, os.Args[2:])
	case "dual":
		err = app.dual(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Error().Err(err).Msg(os.Args[1] + " failed")
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.ClientConfig
	client *brokerclient.Client
	out    io.Writer
}

func (a *app) newMachine(subject string) *pairing.Machine {
	return pairing.NewMachine(a.client,
		pairing.WithValidity(a.cfg.Validity()),
		pairing.WithLogger(log.Logger),
		pairing.WithSubject(subject),
	)
}

func (a *app) host(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("host", flag.ContinueOnError)
	subject := fs.String("subject", "", "label for this pairing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m := a.newMachine(*subject)
	defer m.Close()

	unwatch := m.Watch(a.printer())
	defer unwatch()

	state, err := m.Start(ctx)
	if err != nil {
		return err
	}
	if state.Status != pairing.StatusIssued {
		return outcome(state)
	}
	a.printJoin(state)

	return outcome(a.await(ctx, m))
}

func (a *app) join(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("join takes exactly one pairing code or join URL")
	}

	m := a.newMachine("")
	defer m.Close()

	state, err := m.Claim(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if state.Status == pairing.StatusPaired {
		fmt.Fprintf(a.out, "paired with session %s\n", state.SessionID)
	}
	return outcome(state)
}

func (a *app) dual(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dual", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	coord := pairing.NewCoordinator(a.newMachine("A"), a.newMachine("B"))
	defer coord.Close()

	bothPaired := make(chan struct{})
	announced := false
	unwatch := coord.Watch(func(s pairing.Snapshot) {
		if s.BothPaired && !announced {
			announced = true
			close(bothPaired)
		}
	})
	defer unwatch()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range []*pairing.Machine{coord.A(), coord.B()} {
		m := m
		g.Go(func() error {
			unwatch := m.Watch(a.printer())
			defer unwatch()

			state, err := m.Start(gctx)
			if err != nil {
				return err
			}
			if state.Status != pairing.StatusIssued {
				return outcome(state)
			}
			a.printJoin(state)
			return outcome(a.await(gctx, m))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	select {
	case <-bothPaired:
		fmt.Fprintln(a.out, "both subjects paired")
		return nil
	default:
		return errors.New("session ended before both subjects paired")
	}
}

// await polls the broker until the machine settles or ctx ends.
func (a *app) await(ctx context.Context, m *pairing.Machine) pairing.State {
	settled := make(chan struct{}, 1)
	unwatch := m.Watch(func(s pairing.State) {
		if s.Status.IsTerminal() || s.Status == pairing.StatusError {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unwatch()

	poll := time.NewTicker(a.cfg.PollInterval())
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.State()
		case <-settled:
			return m.State()
		case <-poll.C:
			if _, err := m.Refresh(ctx); err != nil && !errors.Is(err, pairing.ErrIgnored) {
				log.Warn().Err(err).Msg("refresh failed")
			}
		}
	}
}

// printer reports status changes and each countdown minute.
func (a *app) printer() func(pairing.State) {
	var last pairing.Status
	return func(s pairing.State) {
		label := ""
		if s.Subject != "" {
			label = "[" + s.Subject + "] "
		}
		switch {
		case s.Status != last:
			last = s.Status
			fmt.Fprintf(a.out, "%s%s\n", label, s.Status)
		case s.Status == pairing.StatusIssued && s.SecondsRemaining%60 == 0:
			fmt.Fprintf(a.out, "%s%s left\n", label, pairing.FormatRemaining(s.SecondsRemaining))
		}
	}
}

func (a *app) printJoin(s pairing.State) {
	label := ""
	if s.Subject != "" {
		label = "[" + s.Subject + "] "
	}
	fmt.Fprintf(a.out, "%scode %s, valid for %s\n", label, s.Token, pairing.FormatRemaining(s.SecondsRemaining))
	joinURL, err := pairing.BuildJoinURL(a.cfg.JoinBaseURL, s.Token)
	if err != nil {
		log.Warn().Err(err).Msg("could not build join url")
		return
	}
	fmt.Fprintf(a.out, "%sjoin at %s\n", label, joinURL)
}

// outcome turns a settled state into the command's result.
func outcome(s pairing.State) error {
	switch s.Status {
	case pairing.StatusPaired:
		return nil
	case pairing.StatusExpired:
		if s.Err != nil {
			return fmt.Errorf("pairing expired: %w", s.Err)
		}
		return pairing.ErrExpired
	case pairing.StatusError:
		return fmt.Errorf("pairing failed: %w", s.Err)
	default:
		return fmt.Errorf("pairing interrupted in %s", s.Status)
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
