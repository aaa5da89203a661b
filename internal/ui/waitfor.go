package ui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mitchellh/cli"
	progressbar "github.com/schollz/progressbar/v3"
)

// getWriterAndColor unwraps cli.Ui instances until it gets to a BasicUi.
func getWriterAndColor(terminal cli.Ui, useColor bool) (io.Writer, bool) {
	switch terminal := terminal.(type) {
	case *cli.BasicUi:
		return terminal.Writer, useColor
	case *cli.ColoredUi:
		return getWriterAndColor(terminal.Ui, true)
	case *cli.ConcurrentUi:
		return getWriterAndColor(terminal.Ui, useColor)
	case *cli.PrefixedUi:
		return getWriterAndColor(terminal.Ui, useColor)
	case *cli.MockUi:
		return terminal.OutputWriter, false
	default:
		panic(fmt.Sprintf("unknown Ui: %v", terminal))
	}
}

// WaitFor runs fn in the background and, if it outlasts initialDelay,
// shows msg: an indeterminate progress bar on a terminal, or a single
// printed line otherwise. Used for a single slow foreground operation
// (e.g. a remote cache access check), distinct from Spinner which tracks
// a whole batch of concurrent task runs.
func WaitFor(ctx context.Context, fn func(), terminal cli.Ui, msg string, initialDelay time.Duration) error {
	doneCh := make(chan struct{})
	go func() {
		fn()
		close(doneCh)
	}()

	if !IsTTY {
		select {
		case <-ctx.Done():
			return nil
		case <-doneCh:
			return nil
		case <-time.After(initialDelay):
			terminal.Output(msg)
		}
		select {
		case <-ctx.Done():
		case <-doneCh:
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-doneCh:
		return nil
	case <-time.After(initialDelay):
		writer, useColor := getWriterAndColor(terminal, false)
		bar := progressbar.NewOptions(
			-1,
			progressbar.OptionEnableColorCodes(useColor),
			progressbar.OptionSetDescription(fmt.Sprintf("[yellow]%v[reset]", msg)),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetWriter(writer),
		)
		for {
			select {
			case <-doneCh:
				err := bar.Finish()
				terminal.Output("")
				return err
			case <-time.After(250 * time.Millisecond):
				if err := bar.Add(1); err != nil {
					return err
				}
			case <-ctx.Done():
				return nil
			}
		}
	}
}
