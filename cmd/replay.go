package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/wayime/internal/config"
	"github.com/bnema/wayime/internal/logger"
	"github.com/bnema/wayime/internal/loopback"
	"github.com/bnema/wayime/internal/scenario"
	"github.com/bnema/wayime/internal/seat"
	"github.com/bnema/wayime/internal/trace"
	"github.com/bnema/wayime/internal/ui"
	"github.com/spf13/cobra"
)

var (
	replayTrace  string
	replayFollow bool
	replayQuiet  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Run a scenario against an in-memory display",
	Long: `Run a scenario against an in-memory display and print every request,
event and protocol error as it happens. With --follow the display stays up
after the last step and keyboard changes in the config file are applied
live until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayTrace, "trace", "", "write a binary trace to this file (overrides trace.path)")
	replayCmd.Flags().BoolVar(&replayFollow, "follow", false, "keep running and apply keyboard config changes")
	replayCmd.Flags().BoolVarP(&replayQuiet, "quiet", "q", false, "do not print the transcript")
}

func keyboardOptions(cfg *config.Config) (string, seat.RepeatInfo, error) {
	keymap, err := cfg.LoadKeymap()
	if err != nil {
		return "", seat.RepeatInfo{}, err
	}
	return keymap, seat.RepeatInfo{Rate: cfg.Keyboard.RepeatRate, Delay: cfg.Keyboard.RepeatDelay}, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	sc, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	cfg := config.Get()
	keymap, repeat, err := keyboardOptions(cfg)
	if err != nil {
		return err
	}
	runner, err := scenario.NewRunnerFor(sc, scenario.Options{
		SeatName: cfg.Seat.Name,
		Keymap:   keymap,
		Repeat:   repeat,
	})
	if err != nil {
		return err
	}
	defer runner.Close()

	out := cmd.OutOrStdout()
	if !replayQuiet {
		printTranscript(runner.Display(), out)
	}

	tracePath := replayTrace
	if tracePath == "" {
		tracePath = cfg.Trace.Path
	}
	if tracePath != "" {
		finish, err := recordTrace(runner.Display(), tracePath)
		if err != nil {
			return err
		}
		defer func() {
			if ferr := finish(); ferr != nil {
				logger.Errorf("Trace incomplete: %v", ferr)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := sc.Name
	if name == "" {
		name = args[0]
	}
	if err := runner.Run(ctx, sc); err != nil {
		fmt.Fprintln(out, ui.FormatResult(false, fmt.Sprintf("%s: %v", name, err)))
		return err
	}

	printSessions(runner, out)
	fmt.Fprintln(out, ui.FormatResult(true, fmt.Sprintf("%s: %d steps", name, len(sc.Steps))))

	if replayFollow {
		return follow(ctx, runner)
	}
	return nil
}

func printTranscript(display *loopback.Display, out io.Writer) {
	var seq uint64
	display.Observe(func(m loopback.Message) {
		seq++
		rec, err := trace.FromMessage(seq, m)
		if err != nil {
			logger.Warnf("Transcript: %v", err)
			return
		}
		fmt.Fprintln(out, ui.FormatRecord(rec))
	})
}

// recordTrace streams display traffic to path. The returned function flushes
// and closes the file and reports the first error.
func recordTrace(display *loopback.Display, path string) (func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := trace.NewWriter(buf)
	l := display.Observe(w.Observe)

	return func() error {
		l.Remove()
		err := errors.Join(w.Err(), buf.Flush(), f.Close())
		logger.Infof("Trace: %d records written to %s", w.Count(), path)
		return err
	}, nil
}

func printSessions(runner *scenario.Runner, out io.Writer) {
	sessions := runner.Sessions()
	if len(sessions) == 0 {
		return
	}
	fmt.Fprintln(out, ui.FormatHeader("Input methods"))
	for _, s := range sessions {
		fmt.Fprintln(out, ui.FormatInputMethod(s.Name, s.InputMethod))
	}
}

// follow applies keyboard config changes until ctx is done. Reloads arrive
// on the watcher goroutine and are handed to this one.
func follow(ctx context.Context, runner *scenario.Runner) error {
	if !config.Exists() {
		return fmt.Errorf("--follow needs a config file, run 'wayime config init' first")
	}

	updates := make(chan *config.Config)
	config.Watch(func(c *config.Config) {
		select {
		case updates <- c:
		case <-ctx.Done():
		}
	})

	logger.Infof("Watching %s, press Ctrl+C to stop", config.GetConfigPath())
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-updates:
			keymap, repeat, err := keyboardOptions(c)
			if err != nil {
				logger.Errorf("Keyboard not updated: %v", err)
				continue
			}
			config.Set(c)
			runner.UpdateKeyboard(keymap, repeat)
		}
	}
}
