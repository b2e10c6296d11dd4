package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// How long the console waits for a filter worker to answer a command
const commandTimeout = 2 * time.Second

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m" // Yellow for changed values
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// DebugState manages watched filters and routes console commands to filter workers
type DebugState struct {
	filters       map[string]chan<- FilterCommand
	watches       []string
	latest        map[string]FilterSnapshot
	headerPrinted bool
	columnWidths  []int
	prevValues    map[string]string
	rl            *readline.Instance
	out           func(line string)
}

// NewDebugState creates a new debug state for the given filter command channels
func NewDebugState(filters map[string]chan<- FilterCommand) *DebugState {
	return &DebugState{
		filters:    filters,
		latest:     make(map[string]FilterSnapshot),
		prevValues: make(map[string]string),
	}
}

// SetReadline sets the readline instance for proper output handling
func (s *DebugState) SetReadline(rl *readline.Instance) {
	s.rl = rl
}

// print outputs a line, handling readline prompt properly
func (s *DebugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	switch {
	case s.out != nil:
		s.out(line)
	case s.rl != nil:
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	default:
		fmt.Println(line)
	}
}

// filterNames returns the configured filter names, sorted
func (s *DebugState) filterNames() []string {
	names := make([]string, 0, len(s.filters))
	for name := range s.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveFilter matches a filter by exact name or by its device id, so names
// with spaces can be typed as e.g. boiler_temp
func (s *DebugState) resolveFilter(arg string) (string, bool) {
	if _, ok := s.filters[arg]; ok {
		return arg, true
	}
	for name := range s.filters {
		if (FilterConfig{Name: name}).DeviceID() == strings.ToLower(arg) {
			return name, true
		}
	}
	return "", false
}

// AddWatch adds a watch and re-sorts the list
func (s *DebugState) AddWatch(name string) {
	if slices.Contains(s.watches, name) {
		log.Printf("Already watching: %s", name)
		return
	}
	s.watches = append(s.watches, name)
	sort.Strings(s.watches)
	s.headerPrinted = false
	log.Printf("Watching: %s", name)
}

// RemoveWatch removes a watch by name
func (s *DebugState) RemoveWatch(name string) bool {
	i := slices.Index(s.watches, name)
	if i < 0 {
		log.Printf("No watch found for: %s", name)
		return false
	}
	s.watches = slices.Delete(s.watches, i, i+1)
	s.headerPrinted = false
	log.Printf("Unwatched: %s", name)
	return true
}

// RemoveAll removes all watches
func (s *DebugState) RemoveAll() {
	s.watches = s.watches[:0]
	s.headerPrinted = false
	log.Println("All watches removed")
}

// UpdateSnapshot stores the latest state of a filter
func (s *DebugState) UpdateSnapshot(snap FilterSnapshot) {
	s.latest[snap.Name] = snap
}

// ListFilters prints every configured filter with its last known state
func (s *DebugState) ListFilters() {
	names := s.filterNames()
	s.print("Filters (%d):", len(names))
	for _, name := range names {
		snap, ok := s.latest[name]
		if !ok {
			s.print("  %s: no samples yet", name)
			continue
		}
		s.print("  %s", formatSnapshot(snap))
	}
}

// formatSnapshot renders a snapshot on one line
func formatSnapshot(snap FilterSnapshot) string {
	adaptive := ""
	if snap.Adaptive {
		adaptive = " adaptive"
	}
	return fmt.Sprintf("%s: value=%s raw=%s band=[%s, %s] width=%s samples=%d%s",
		snap.Name,
		formatDebugValue(snap.Value), formatDebugValue(snap.Raw),
		formatDebugValue(snap.Lower), formatDebugValue(snap.Upper),
		formatDebugValue(snap.Width), snap.Samples, adaptive)
}

// formatDebugValue formats a float with smart precision
func formatDebugValue(v float64) string {
	if v >= 100 || v <= -100 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// watchCell returns the table cell for a watched filter
func (s *DebugState) watchCell(name string) string {
	snap, ok := s.latest[name]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%s [%s..%s]",
		formatDebugValue(snap.Value), formatDebugValue(snap.Lower), formatDebugValue(snap.Upper))
}

// PrintHeader prints the column headers
func (s *DebugState) PrintHeader() {
	if len(s.watches) == 0 {
		return
	}

	s.columnWidths = make([]int, len(s.watches))
	parts := make([]string, 0, len(s.watches))
	for i, name := range s.watches {
		s.columnWidths[i] = len(name)
		parts = append(parts, fmt.Sprintf("%*s", s.columnWidths[i], name))
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = make(map[string]string)
}

// PrintRow prints the current values for all watches (only if changed)
func (s *DebugState) PrintRow() {
	if len(s.watches) == 0 {
		return
	}

	if !s.headerPrinted {
		s.PrintHeader()
	}

	parts := make([]string, 0, len(s.watches))
	anyChanged := false
	newValues := make(map[string]string, len(s.watches))

	for i, name := range s.watches {
		value := s.watchCell(name)
		newValues[name] = value

		width := s.columnWidths[i]
		if len(value) > width {
			width = len(value)
			s.columnWidths[i] = width
		}

		prevValue, hasPrev := s.prevValues[name]
		if !hasPrev || prevValue != value {
			anyChanged = true
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}

	if anyChanged {
		s.print("%s", strings.Join(parts, " | "))
		s.prevValues = newValues
	}
}

// filterCommandKinds maps console verbs to filter commands
var filterCommandKinds = map[string]FilterCommandKind{
	"show":   CommandSnapshot,
	"width":  CommandSetWidth,
	"set":    CommandSetValue,
	"center": CommandCenter,
}

// parseFilterCommand parses "<verb> <filter> [value]" into a command for the named filter
func (s *DebugState) parseFilterCommand(parts []string) (string, FilterCommand, error) {
	kind, ok := filterCommandKinds[parts[0]]
	if !ok {
		return "", FilterCommand{}, fmt.Errorf("unknown command: %s", parts[0])
	}

	wantArgs := 3
	usage := fmt.Sprintf("usage: %s <filter> <value>", parts[0])
	if kind == CommandSnapshot {
		wantArgs = 2
		usage = fmt.Sprintf("usage: %s <filter>", parts[0])
	}
	if len(parts) != wantArgs {
		return "", FilterCommand{}, errors.New(usage)
	}

	name, ok := s.resolveFilter(parts[1])
	if !ok {
		return "", FilterCommand{}, fmt.Errorf("no filter named %s", parts[1])
	}

	cmd := FilterCommand{Kind: kind}
	if kind != CommandSnapshot {
		v, err := parseFinite(parts[2])
		if err != nil {
			return "", FilterCommand{}, fmt.Errorf("%s: %w", usage, err)
		}
		cmd.Value = v
	}
	return name, cmd, nil
}

// sendFilterCommand delivers a command to a filter worker and waits for the reply
func (s *DebugState) sendFilterCommand(ctx context.Context, name string, cmd FilterCommand) (FilterReply, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	reply := make(chan FilterReply, 1)
	cmd.Reply = reply

	select {
	case s.filters[name] <- cmd:
	case <-ctx.Done():
		return FilterReply{}, fmt.Errorf("%s not accepting commands: %w", name, ctx.Err())
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return FilterReply{}, fmt.Errorf("%s did not reply: %w", name, ctx.Err())
	}
}

// handleDebugCommand processes a debug command
func handleDebugCommand(ctx context.Context, line string, state *DebugState) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "list":
		state.ListFilters()

	case "watch":
		if len(parts) != 2 {
			log.Println("Usage: watch <filter>")
			return
		}
		name, ok := state.resolveFilter(parts[1])
		if !ok {
			log.Printf("No filter named %s", parts[1])
			return
		}
		state.AddWatch(name)
		state.PrintRow()

	case "unwatch":
		if len(parts) != 2 {
			log.Println("Usage: unwatch <filter> | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.RemoveAll()
			return
		}
		if name, ok := state.resolveFilter(parts[1]); ok {
			state.RemoveWatch(name)
		} else {
			log.Printf("No filter named %s", parts[1])
		}

	case "show", "width", "set", "center":
		name, cmd, err := state.parseFilterCommand(parts)
		if err != nil {
			log.Printf("Error: %v", err)
			return
		}
		r, err := state.sendFilterCommand(ctx, name, cmd)
		if err != nil {
			log.Printf("Error: %v", err)
			return
		}
		if r.Err != nil {
			log.Printf("Error: %v", r.Err)
		}
		state.UpdateSnapshot(r.Snapshot)
		state.print("%s", formatSnapshot(r.Snapshot))

	case "help":
		state.print("Commands:")
		state.print("  list                   - List filters and their state")
		state.print("  watch <filter>         - Print a row whenever the filter output changes")
		state.print("  unwatch <filter>       - Stop watching a filter")
		state.print("  unwatch --all          - Remove all watches")
		state.print("  show <filter>          - Show the current filter state")
		state.print("  width <filter> <w>     - Set the deadband width (recenters on the output)")
		state.print("  set <filter> <v>       - Overwrite the output, borders stay where they are")
		state.print("  center <filter> <v>    - Center the borders around v, output unchanged")
		state.print("  help                   - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for debug history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	appCache := filepath.Join(cacheDir, "backlashctl")
	_ = os.MkdirAll(appCache, 0750)
	return filepath.Join(appCache, "debug_history")
}

// debugWorker provides an interactive console for inspecting and adjusting filters
func debugWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	snapshotChan <-chan FilterSnapshot,
	filters map[string]chan<- FilterCommand,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil
	}()

	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState(filters)
	state.SetReadline(rl)

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case line := <-commandChan:
			handleDebugCommand(ctx, line, state)
		case snap := <-snapshotChan:
			state.UpdateSnapshot(snap)
			if slices.Contains(state.watches, snap.Name) {
				state.PrintRow()
			}
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
