// Package logging is a thin leveled formatter over standard output: plain
// colored lines for humans, one JSON object per line for CI log collectors.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorRed    = "\033[91m"
	colorYellow = "\033[93m"
)

var (
	// DebugEnabled gates Debugf output. Set from the --debug flag.
	DebugEnabled bool

	// JSONMode switches to JSON-line output for CI.
	JSONMode bool

	// ColorEnabled is forced off when stdout is not a terminal.
	ColorEnabled = term.IsTerminal(int(os.Stdout.Fd()))
)

// Debugf prints messages only if DebugEnabled is true.
func Debugf(format string, args ...interface{}) {
	if DebugEnabled {
		emit("debug", colorGray, format, args...)
	}
}

// Infof prints messages always.
func Infof(format string, args ...interface{}) {
	emit("info", "", format, args...)
}

// Warnf prints recoverable problems (e.g. one scanner's output was dropped).
func Warnf(format string, args ...interface{}) {
	emit("warn", colorYellow, format, args...)
}

// Errorf prints failures that end the run.
func Errorf(format string, args ...interface{}) {
	emit("error", colorRed, format, args...)
}

func emit(level, color, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if JSONMode {
		line, err := json.Marshal(map[string]string{
			"time":  time.Now().UTC().Format(time.RFC3339),
			"level": level,
			"msg":   msg,
		})
		if err != nil {
			fmt.Printf("[%s] %s\n", level, msg)
			return
		}
		fmt.Println(string(line))
		return
	}
	if color != "" && ColorEnabled {
		fmt.Printf("%s[%s]%s %s\n", color, level, colorReset, msg)
		return
	}
	fmt.Printf("[%s] %s\n", level, msg)
}
