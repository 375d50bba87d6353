package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultWidth  = 1600
	defaultHeight = 900

	minWidth  = 400
	minHeight = 300
)

type Config struct {
	DBPath        string
	SessionID     int64
	OutputFile    string
	MAC           string
	Width         int
	Height        int
	NoAnnotations bool
}

func NewConfig() *Config {
	return &Config{
		Width:  defaultWidth,
		Height: defaultHeight,
	}
}

func NewConfigFromCLI() (*Config, error) {
	return parseArgs(flag.CommandLine, os.Args[1:])
}

func parseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.Int64Var(&c.SessionID, "s", 0, "Session ID (YYYYMMDDhhmmss)")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, defaults to spectrum_calib_<session>.png")
	fs.StringVar(&c.MAC, "mac", "", "Plot only the photometer with this MAC address")
	fs.IntVar(&c.Width, "width", defaultWidth, "Image width in pixels")
	fs.IntVar(&c.Height, "height", defaultHeight, "Image height in pixels")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as axis labels and legend")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}

// Validate checks required settings and fills in the default output file
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("db path is required")
	case c.SessionID <= 0:
		return errors.New("session id is required")
	case c.Width < minWidth || c.Height < minHeight:
		return fmt.Errorf("image must be at least %dx%d pixels: %dx%d given", minWidth, minHeight, c.Width, c.Height)
	}

	if c.OutputFile == "" {
		c.OutputFile = fmt.Sprintf("spectrum_calib_%d.png", c.SessionID)
	} else if !strings.EqualFold(filepath.Ext(c.OutputFile), ".png") {
		c.OutputFile += ".png"
	}
	return nil
}
