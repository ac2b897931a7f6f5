package logger

import (
	"fmt"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// colorEnabled disables ANSI colors when NO_COLOR is set or when stdout
// is clearly not a terminal (dumb TERM).
func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}

func paint(color, s string) string {
	if !colorEnabled() {
		return s
	}
	return color + s + colorReset
}

func line(color, symbol, tag, msg string) {
	fmt.Fprintf(os.Stdout, "%s %s %s\n", paint(color, symbol), paint(colorGray, "["+tag+"]"), msg)
}

// Info logs a neutral progress message.
func Info(tag, msg string) {
	line(colorCyan, "•", tag, msg)
}

// Success logs a completed step.
func Success(tag, msg string) {
	line(colorGreen, "✔", tag, msg)
}

// Warn logs a recoverable problem.
func Warn(tag, msg string) {
	line(colorYellow, "!", tag, msg)
}

// Error logs a failure.
func Error(tag, msg string) {
	line(colorRed, "✘", tag, msg)
}

// Banner prints the startup banner with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintln(os.Stdout, paint(colorCyan, "dankstats "+version))
}

// Section prints a visual divider before a named phase.
func Section(name string) {
	fmt.Fprintf(os.Stdout, "\n%s\n", paint(colorCyan, "── "+name+" "+strings.Repeat("─", max(0, 40-len(name)))))
}

// Stats prints a key/value counter.
func Stats(key string, value int) {
	fmt.Fprintf(os.Stdout, "  %s %d\n", paint(colorGray, key+":"), value)
}

// Server announces the listen address.
func Server(addr string) {
	fmt.Fprintf(os.Stdout, "%s http://%s\n", paint(colorGreen, "⇒ serving"), addr)
}
