// Package ui builds the colored cli.Ui used by the cmd layer and the
// per-task output prefix coloring used when the pipeline replays a
// task's captured logs to the terminal.
//
// Grounded on turborepo's internal/ui package: ColorMode and
// GetColorModeFromEnv/applyColorMode (the FORCE_COLOR convention),
// BuildColoredUi's stripAnsiWriter wrapping when color is suppressed,
// and mitchellh/cli's ColoredUi/PrefixedUi types it builds on.
package ui

import (
	"io"
	"os"
	"regexp"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"
)

// IsTTY is true when stdout appears to be a terminal.
var IsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

// ColorMode controls whether ANSI color codes are emitted.
type ColorMode int

const (
	ColorModeUndefined ColorMode = iota + 1
	ColorModeSuppressed
	ColorModeForced
)

// GetColorModeFromEnv reads FORCE_COLOR, following the supports-color
// NodeJS package convention turborepo's GetColorModeFromEnv follows:
// "0"/"false" suppresses, "1"/"2"/"3"/"true" forces.
func GetColorModeFromEnv() ColorMode {
	switch v := os.Getenv("FORCE_COLOR"); {
	case v == "false" || v == "0":
		return ColorModeSuppressed
	case v == "true" || v == "1" || v == "2" || v == "3":
		return ColorModeForced
	default:
		return ColorModeUndefined
	}
}

func applyColorMode(mode ColorMode) ColorMode {
	switch mode {
	case ColorModeForced:
		color.NoColor = false
	case ColorModeSuppressed:
		color.NoColor = true
	case ColorModeUndefined:
		// leave color.NoColor at its isatty/NO_COLOR-derived default
	}
	if color.NoColor {
		return ColorModeSuppressed
	}
	return ColorModeForced
}

var ansiEscapeStr = "[][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))"
var ansiRegex = regexp.MustCompile(ansiEscapeStr)

type stripAnsiWriter struct {
	w io.Writer
}

func (s *stripAnsiWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(ansiRegex.ReplaceAll(p, nil))
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// Dim renders str in a faint color, used for secondary detail lines
// (cache-hit annotations, elapsed times) in run/exec output.
func Dim(str string) string {
	return color.New(color.Faint).Sprint(str)
}

// Bold renders str bolded, used for task/project name headers.
func Bold(str string) string {
	return color.New(color.Bold).Sprint(str)
}

// Default builds a cli.ColoredUi over stdin/stdout/stderr with the
// color mode inferred from the environment.
func Default() cli.Ui {
	return BuildColoredUi(GetColorModeFromEnv(), os.Stdin, os.Stdout, os.Stderr)
}

// BuildColoredUi wires a cli.ColoredUi, stripping ANSI codes from both
// streams when mode resolves to suppressed.
func BuildColoredUi(mode ColorMode, in io.Reader, out, errW io.Writer) cli.Ui {
	mode = applyColorMode(mode)

	outWriter, errWriter := out, errW
	if mode == ColorModeSuppressed {
		outWriter = &stripAnsiWriter{w: out}
		errWriter = &stripAnsiWriter{w: errW}
	}

	return &cli.ColoredUi{
		Ui: &cli.BasicUi{
			Reader:      in,
			Writer:      outWriter,
			ErrorWriter: errWriter,
		},
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColorNone,
		WarnColor:   cli.UiColor{Code: int(color.FgYellow), Bold: false},
		ErrorColor:  cli.UiColorRed,
	}
}

// StatusPrefix renders a result status as a bold, reverse-video label
// for a task's output line: " DONE " in green or " FAIL " in red.
func StatusPrefix(success bool) string {
	if success {
		return color.New(color.Bold, color.FgGreen, color.ReverseVideo).Sprint(" DONE ")
	}
	return color.New(color.Bold, color.FgRed, color.ReverseVideo).Sprint(" FAIL ")
}
