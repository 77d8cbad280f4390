package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"tmcore/internal/errors"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	blue   = color.New(color.FgBlue).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError writes err to stderr, or as {"error": {...}} to stdout in JSON
// mode.
func (a *app) printError(err error) {
	var e *errors.Error
	if !errors.As(err, &e) {
		e = &errors.Error{Type: errors.ErrorTypeInternal, Message: err.Error()}
	}

	if a.json {
		a.printJSON(map[string]*errors.Error{"error": e})
		return
	}
	fmt.Fprintf(a.errOut, "%s %s\n", red("error:"), err)
}

// printDiff colors unified diff text line by line.
func (a *app) printDiff(text string) {
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprint(a.out, line)
		case strings.HasPrefix(line, "@@"):
			fmt.Fprint(a.out, cyan(line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(a.out, green(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(a.out, red(line))
		case strings.HasPrefix(line, "error "):
			fmt.Fprint(a.out, yellow(line))
		default:
			fmt.Fprint(a.out, line)
		}
	}
}
