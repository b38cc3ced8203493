// tasklog is a diagnostic viewer for taskcore session databases: it lists
// sessions, renders event logs, shows materialized views, and inspects
// persisted controller state.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/driftlabs/taskcore/internal/config"
	"github.com/driftlabs/taskcore/internal/controller"
	"github.com/driftlabs/taskcore/internal/eventlog"
	"github.com/driftlabs/taskcore/internal/format"
	"github.com/driftlabs/taskcore/internal/persist"
	"github.com/driftlabs/taskcore/internal/store"
	"github.com/driftlabs/taskcore/internal/view"
)

var rootCmd = &cobra.Command{
	Use:   "tasklog",
	Short: "Browse taskcore session logs",
}

func init() {
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newStateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tasklog: %v\n", err)
		os.Exit(1)
	}
}

func newSessionsCmd() *cobra.Command {
	var (
		dbPath     string
		limit      int
		formatFlag string
		noHeader   bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer closeFn()

			items, err := s.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return format.WriteSessions(cmd.OutOrStdout(), items, !noHeader, formatFlag)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dbPath, "db", "", "path to the session database (default from config)")
	flags.IntVar(&limit, "limit", 0, "limit number of sessions returned (0 means default)")
	flags.StringVar(&formatFlag, "format", "table", "output format: table, plain, json, or jsonl")
	flags.BoolVar(&noHeader, "no-header", false, "omit the header row")

	return cmd
}

func newShowCmd() *cobra.Command {
	var (
		dbPath       string
		formatFlag   string
		kindArg      string
		maxEvents    int
		asView       bool
		wrap         int
		forceColor   bool
		forceNoColor bool
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Render a session's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forceColor && forceNoColor {
				return errors.New("--color and --no-color cannot be used together")
			}

			s, closeFn, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer closeFn()

			events, err := loadSessionEvents(cmd.Context(), s, args[0], asView)
			if err != nil {
				return err
			}

			kinds, err := parseKindArg(kindArg)
			if err != nil {
				return err
			}
			if kinds != nil {
				filtered := events[:0]
				for _, evt := range events {
					if _, ok := kinds[evt.Kind]; ok {
						filtered = append(filtered, evt)
					}
				}
				events = filtered
			}
			events = limitEvents(events, maxEvents)

			out := cmd.OutOrStdout()
			switch strings.ToLower(formatFlag) {
			case "text":
				useColor := resolveColorChoice(out, forceColor, forceNoColor)
				printEvents(out, events, useColor)
				return nil
			case "", "table":
				return format.WriteEvents(out, events, "table", bodyWidth(out, wrap))
			default:
				return format.WriteEvents(out, events, formatFlag, 0)
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dbPath, "db", "", "path to the session database (default from config)")
	flags.StringVar(&formatFlag, "format", "table", "output format: table, text, plain, json, or jsonl")
	flags.StringVarP(&kindArg, "kind", "k", "", "comma-separated event kinds to include (default: all)")
	flags.IntVar(&maxEvents, "max", 0, "show only the most recent N events (0 means no limit)")
	flags.BoolVar(&asView, "view", false, "render the materialized view instead of the raw log")
	flags.IntVar(&wrap, "wrap", 0, "wrap the body column at the given width")
	flags.BoolVar(&forceColor, "color", false, "force-enable ANSI colors even when stdout is not a TTY")
	flags.BoolVar(&forceNoColor, "no-color", false, "disable ANSI colors regardless of terminal detection")

	return cmd
}

func newStateCmd() *cobra.Command {
	var (
		dbPath     string
		userID     string
		formatFlag string
	)

	cmd := &cobra.Command{
		Use:   "state <session-id>",
		Short: "Inspect persisted controller state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer closeFn()

			blob, err := s.GetStateBlob(cmd.Context(), args[0], userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(formatFlag) {
			case "json":
				var pretty map[string]any
				if err := json.Unmarshal(blob, &pretty); err != nil {
					return fmt.Errorf("decode state blob: %w", err)
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(pretty)
			case "", "text":
				st, err := persist.Decode(blob)
				if err != nil {
					return err
				}
				renderStateText(out, st)
				return nil
			default:
				return fmt.Errorf("unsupported format: %s", formatFlag)
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dbPath, "db", "", "path to the session database (default from config)")
	flags.StringVar(&userID, "user", "", "user namespace of the stored state")
	flags.StringVar(&formatFlag, "format", "text", "output format: text or json")

	return cmd
}

func openStore(dbPath string) (*store.Store, func(), error) {
	if dbPath == "" {
		dbPath = config.Load().DBPath
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return store.NewStore(db), func() { _ = db.Close() }, nil
}

func loadSessionEvents(ctx context.Context, s *store.Store, sessionID string, asView bool) ([]eventlog.Event, error) {
	if !asView {
		return s.LoadEvents(ctx, sessionID)
	}
	log, err := s.LoadLog(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return view.Materialize(log, log.LatestID()).Events, nil
}

func parseKindArg(arg string) (map[eventlog.Kind]struct{}, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, nil
	}
	lookup := map[string]eventlog.Kind{
		"action":       eventlog.KindAction,
		"observation":  eventlog.KindObservation,
		"condensation": eventlog.KindCondensation,
		"system":       eventlog.KindSystem,
	}
	set := make(map[eventlog.Kind]struct{})
	for _, part := range strings.Split(arg, ",") {
		token := strings.TrimSpace(strings.ToLower(part))
		if token == "" {
			continue
		}
		kind, ok := lookup[token]
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", token)
		}
		set[kind] = struct{}{}
	}
	if len(set) == 0 {
		return nil, nil
	}
	return set, nil
}

func limitEvents(events []eventlog.Event, max int) []eventlog.Event {
	if max <= 0 || len(events) <= max {
		return events
	}
	return events[len(events)-max:]
}

func printEvents(out io.Writer, events []eventlog.Event, useColor bool) {
	for _, evt := range events {
		label := fmt.Sprintf("%s/%s", evt.Source, evt.Kind)
		id := "-"
		if evt.ID > 0 {
			id = strconv.FormatInt(evt.ID, 10)
		}
		ts := "-"
		if !evt.CreatedAt.IsZero() {
			ts = evt.CreatedAt.Format(time.RFC3339)
		}
		idText := fmt.Sprintf("#%s", id)
		labelText := label
		tsText := ts
		if useColor {
			idText = colorize(ansiBoldWhite, idText)
			labelText = colorize(kindColor(evt.Kind), labelText)
			tsText = colorize(ansiTimestamp, tsText)
		}
		fmt.Fprintf(out, "[%s] %s | %s\n", idText, labelText, tsText)
		fmt.Fprintf(out, "  %s\n", format.EventBody(evt))
	}
}

const (
	ansiReset     = "\x1b[0m"
	ansiBoldWhite = "\x1b[1;97m"
	ansiTimestamp = "\x1b[38;5;245m"
	ansiAction    = "\x1b[38;5;44m"
	ansiObserve   = "\x1b[38;5;220m"
	ansiCondense  = "\x1b[38;5;207m"
	ansiSystem    = "\x1b[38;5;240m"
)

func colorize(code, text string) string {
	return code + text + ansiReset
}

func kindColor(kind eventlog.Kind) string {
	switch kind {
	case eventlog.KindAction:
		return ansiAction
	case eventlog.KindObservation:
		return ansiObserve
	case eventlog.KindCondensation:
		return ansiCondense
	default:
		return ansiSystem
	}
}

func resolveColorChoice(out io.Writer, forceColor, forceNoColor bool) bool {
	if forceColor {
		return true
	}
	if forceNoColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func bodyWidth(out io.Writer, wrap int) int {
	if wrap > 0 {
		return wrap
	}
	if file, ok := out.(*os.File); ok {
		if w, _, err := term.GetSize(int(file.Fd())); err == nil && w > 40 {
			// Leave room for the id, source, and kind columns.
			return w - 40
		}
	}
	if colsStr := os.Getenv("COLUMNS"); colsStr != "" {
		if v, err := strconv.Atoi(colsStr); err == nil && v > 40 {
			return v - 40
		}
	}
	return 80
}

func renderStateText(out io.Writer, st *controller.State) {
	const labelWidth = 16
	lifecycle := string(st.Lifecycle)
	if st.ResumeState != "" {
		lifecycle = fmt.Sprintf("%s (resumes to %s)", st.Lifecycle, st.ResumeState)
	}
	rangeEnd := "latest"
	if st.RangeEnd > 0 {
		rangeEnd = strconv.FormatInt(st.RangeEnd-1, 10)
	}
	m := st.Metrics()

	writeKV(out, labelWidth, "Session ID", st.SessionID)
	if st.UserID != "" {
		writeKV(out, labelWidth, "User ID", st.UserID)
	}
	writeKV(out, labelWidth, "Frame ID", st.FrameID)
	writeKV(out, labelWidth, "Lifecycle", lifecycle)
	writeKV(out, labelWidth, "Budget", string(st.Budget))
	writeKV(out, labelWidth, "Iterations", fmt.Sprintf("%d local / %d global (max %d)", st.LocalIteration, st.GlobalIteration(), st.MaxIterations))
	writeKV(out, labelWidth, "Cost", fmt.Sprintf("$%.4f (max $%.4f)", m.CostUSD, st.MaxCostUSD))
	writeKV(out, labelWidth, "Tokens", fmt.Sprintf("%d in / %d out", m.InputTokens, m.OutputTokens))
	writeKV(out, labelWidth, "Delegate Depth", strconv.Itoa(st.DelegateDepth))
	writeKV(out, labelWidth, "Log Range", fmt.Sprintf("%d..%s", st.RangeStart, rangeEnd))
}

func writeKV(out io.Writer, width int, label, value string) {
	fmt.Fprintf(out, "%-*s: %s\n", width, label, value)
}
