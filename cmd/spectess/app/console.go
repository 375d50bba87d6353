package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/roman-kulish/spectess/internal/calibration"
	"github.com/roman-kulish/spectess/internal/display"
	"github.com/roman-kulish/spectess/internal/photometer"
)

var errQuit = errors.New("quit")

type command struct {
	name  string
	usage string
	help  string
	run   func(ctx context.Context, args []string) error
}

// pendingStep tracks the result of the last started step
type pendingStep struct {
	done   chan struct{}
	result calibration.StepResult
}

// Console is the interactive operator interface
type Console struct {
	controller *calibration.Controller
	display    *display.Console
	out        io.Writer
	logger     *slog.Logger

	commands []command

	mu      sync.Mutex
	pending *pendingStep
}

// NewConsole creates a console driving controller
func NewConsole(controller *calibration.Controller, d *display.Console, out io.Writer, logger *slog.Logger) *Console {
	c := &Console{
		controller: controller,
		display:    d,
		out:        out,
		logger:     logger,
	}

	c.commands = []command{
		{"detect", "detect", "identify the photometer and register it", c.detect},
		{"start", "start", "capture a step at the current wavelength", c.start},
		{"cancel", "cancel", "abort the running step", c.cancel},
		{"wait", "wait", "wait for the running step to finish", c.wait},
		{"role", "role <ref|test>", "select the photometer role", c.role},
		{"save", "save <on|off>", "persist captured samples", c.save},
		{"nsamples", "nsamples <n>", "set the number of readings per step", c.nsamples},
		{"wavelength", "wavelength <nm>", "set the sweep start wavelength", c.wavelength},
		{"incr", "incr <nm>", "set the wavelength increment", c.increment},
		{"status", "status", "show the calibration state", c.status},
		{"sessions", "sessions", "list sessions with samples", c.sessions},
		{"roles", "roles <session>", "list roles sampled in a session", c.roles},
		{"select", "select <session>", "select the session to export", c.selectSession},
		{"export", "export [path]", "export the selected session (.csv or .parquet)", c.export},
		{"help", "help", "show this help", c.help},
		{"quit", "quit", "leave the program", func(context.Context, []string) error { return errQuit }},
	}

	return c
}

// Run reads commands from in until quit, end of input or ctx cancellation
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	defer c.stop()

	c.printf("spectess ready, type 'help' for commands")

	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("error: %s", err.Error())
			}
		}
	}
}

// stop aborts the running step and waits for its result
func (c *Console) stop() {
	c.controller.CancelStep()

	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()

	if p != nil {
		<-p.done
	}
}

func (c *Console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	name := strings.ToLower(fields[0])
	if name == "exit" {
		name = "quit"
	}

	for _, cmd := range c.commands {
		if cmd.name == name {
			c.logger.Debug("console command", slog.String("command", line))
			return cmd.run(ctx, fields[1:])
		}
	}
	return fmt.Errorf("unknown command '%s', type 'help' for commands", fields[0])
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format+"\n", args...)
}

func intArg(args []string, name string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one %s argument", name)
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s'", name, args[0])
	}
	return v, nil
}

func (c *Console) detect(ctx context.Context, _ []string) error {
	return c.controller.ResolveDevice(ctx)
}

func (c *Console) start(ctx context.Context, _ []string) error {
	results, err := c.controller.StartStep(ctx)
	if err != nil {
		return err
	}

	p := &pendingStep{done: make(chan struct{})}
	c.mu.Lock()
	c.pending = p
	c.mu.Unlock()

	go func() {
		p.result = <-results
		c.printResult(p.result)
		close(p.done)
	}()

	return nil
}

func (c *Console) printResult(res calibration.StepResult) {
	switch res.Outcome {
	case calibration.OutcomeCompleted:
		c.printf("step at %d nm completed, %d samples saved, next λ = %d nm", res.Wavelength, res.Saved, res.NextWavelength)
	case calibration.OutcomeAborted:
		c.printf("step at %d nm aborted", res.Wavelength)
	default:
		c.printf("step at %d nm failed: %v", res.Wavelength, res.Err)
	}
}

func (c *Console) cancel(context.Context, []string) error {
	if !c.controller.CancelStep() {
		return errors.New("no step in progress")
	}
	return nil
}

func (c *Console) wait(ctx context.Context, _ []string) error {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()

	if p == nil {
		return errors.New("no step started")
	}

	select {
	case <-p.done:
		return p.result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Console) role(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("expected one role argument")
	}
	role, err := photometer.ParseRole(args[0])
	if err != nil {
		return err
	}
	return c.controller.SetRole(role)
}

func (c *Console) save(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("expected on or off")
	}
	switch strings.ToLower(args[0]) {
	case "on", "yes", "true":
		return c.controller.SetSave(true)
	case "off", "no", "false":
		return c.controller.SetSave(false)
	}
	return fmt.Errorf("expected on or off, got '%s'", args[0])
}

func (c *Console) nsamples(ctx context.Context, args []string) error {
	n, err := intArg(args, "sample count")
	if err != nil {
		return err
	}
	return c.controller.SetSampleCount(ctx, n)
}

func (c *Console) wavelength(ctx context.Context, args []string) error {
	w, err := intArg(args, "wavelength")
	if err != nil {
		return err
	}

	set, err := c.controller.SetStartWavelength(ctx, w)
	if err != nil {
		return err
	}
	if set != w {
		c.printf("wavelength clamped to %d nm", set)
	}
	return nil
}

func (c *Console) increment(ctx context.Context, args []string) error {
	n, err := intArg(args, "increment")
	if err != nil {
		return err
	}
	return c.controller.SetWaveIncrement(ctx, n)
}

func (c *Console) status(context.Context, []string) error {
	state := c.controller.State()
	progress := c.display.Progress(state.Role)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "session\t%d\n", state.SessionID)
	_, _ = fmt.Fprintf(tw, "phase\t%s\n", c.controller.Phase())
	_, _ = fmt.Fprintf(tw, "role\t%s\n", state.Role)
	_, _ = fmt.Fprintf(tw, "save\t%t\n", state.Save)
	_, _ = fmt.Fprintf(tw, "nsamples\t%d\n", state.SampleCount)
	_, _ = fmt.Fprintf(tw, "wavelength\t%d nm (start %d nm, +%d nm)\n", state.Wavelength, state.StartWavelength, state.WaveIncrement)
	_, _ = fmt.Fprintf(tw, "filter\t%s\n", state.Filter())
	_, _ = fmt.Fprintf(tw, "progress\t%d/%d\n", progress.Done, progress.Total)

	if p := c.controller.Photometer(); p != nil {
		_, _ = fmt.Fprintf(tw, "photometer\t%s (%s)\n", p.Name, p.MAC)
	} else {
		_, _ = fmt.Fprintf(tw, "photometer\tnot detected\n")
	}
	if state.SelectedExportSession != nil {
		_, _ = fmt.Fprintf(tw, "export session\t%d\n", *state.SelectedExportSession)
	}
	return tw.Flush()
}

func (c *Console) sessions(ctx context.Context, _ []string) error {
	sessions, err := c.controller.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		c.printf("no sessions")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"Session", "Roles"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, s := range sessions {
		roles, err := c.controller.Roles(ctx, s)
		if err != nil {
			return err
		}
		table.Append([]string{strconv.FormatInt(s, 10), joinRoles(roles)})
	}
	table.Render()
	return nil
}

func joinRoles(roles []photometer.Role) string {
	labels := make([]string, len(roles))
	for i, r := range roles {
		labels[i] = r.String()
	}
	return strings.Join(labels, ", ")
}

func (c *Console) roles(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("expected one session argument")
	}
	session, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session '%s'", args[0])
	}

	roles, err := c.controller.Roles(ctx, session)
	if err != nil {
		return err
	}
	c.printf("%s", joinRoles(roles))
	return nil
}

func (c *Console) selectSession(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("expected one session argument")
	}
	session, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session '%s'", args[0])
	}

	path, err := c.controller.SelectExportSession(ctx, session)
	if err != nil {
		return err
	}
	c.printf("session %d selected, default export file %s", session, path)
	return nil
}

func (c *Console) export(ctx context.Context, args []string) error {
	var path string
	if len(args) > 0 {
		path = args[0]
	}

	path, n, err := c.controller.Export(ctx, path)
	if err != nil {
		return err
	}
	c.printf("exported %s rows to %s", humanize.Comma(int64(n)), path)
	return nil
}

func (c *Console) help(context.Context, []string) error {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, cmd := range c.commands {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\n", cmd.usage, cmd.help)
	}
	return tw.Flush()
}
