// Package display renders calibration progress for the operator.
package display

import (
	"fmt"
	"io"
	"sync"

	"github.com/olekukonko/tablewriter"

	"github.com/roman-kulish/spectess/internal/photometer"
)

// Progress is the capture progress of a role
type Progress struct {
	Done  int
	Total int
}

// Console writes log lines and state changes as plain text lines
type Console struct {
	mu         sync.Mutex
	w          io.Writer
	progress   map[photometer.Role]Progress
	capture    map[photometer.Role]bool
	wavelength int
	filter     string
}

// NewConsole creates a console display writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{
		w:        w,
		progress: make(map[photometer.Role]Progress),
		capture:  make(map[photometer.Role]bool),
	}
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *Console) AppendLog(role photometer.Role, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("[%s] %s", role, line)
}

func (c *Console) ResetProgress(role photometer.Role, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress[role] = Progress{Total: total}
}

func (c *Console) AdvanceProgress(role photometer.Role, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.progress[role]
	p.Done = min(p.Done+n, p.Total)
	c.progress[role] = p
}

func (c *Console) SetWavelength(wavelength int, filter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wavelength, c.filter = wavelength, filter
	c.printf("λ = %d nm, filter %s", wavelength, filter)
}

func (c *Console) EnableCapture(role photometer.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capture[role] = true
	c.printf("[%s] photometer ready, capture enabled", role)
}

func (c *Console) ResetSwitch(role photometer.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capture[role] = false
}

func (c *Console) ShowMetadata(role photometer.Role, info *photometer.Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.printf("[%s] photometer metadata", role)

	table := tablewriter.NewWriter(c.w)
	table.SetHeader([]string{"Property", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, p := range info.Properties() {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
}

// Progress returns the capture progress of role
func (c *Console) Progress(role photometer.Role) Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress[role]
}

// CaptureEnabled reports whether a photometer was resolved for role
func (c *Console) CaptureEnabled(role photometer.Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture[role]
}

// Wavelength returns the last displayed wavelength and filter
func (c *Console) Wavelength() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wavelength, c.filter
}
