package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the parts of the console output.
type ColorScheme struct {
	Border  *color.Color
	Title   *color.Color
	Label   *color.Color
	Value   *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
	Dim     *color.Color
	Stage   *color.Color
	Latency *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Border:  color.New(color.FgCyan),
		Title:   color.New(color.Bold),
		Label:   color.New(color.Bold),
		Value:   color.New(color.FgCyan),
		Good:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Bad:     color.New(color.FgRed),
		Dim:     color.New(color.Faint),
		Stage:   color.New(color.FgMagenta),
		Latency: color.New(color.FgBlue),
	}
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	return DefaultColorScheme().set(false)
}

// set forces colors on or off regardless of the global color.NoColor,
// which fatih/color derives from stdout only.
func (s *ColorScheme) set(enabled bool) *ColorScheme {
	for _, c := range []*color.Color{s.Border, s.Title, s.Label, s.Value, s.Good, s.Warn, s.Bad, s.Dim, s.Stage, s.Latency} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// rateColor grades an error rate.
func (s *ColorScheme) rateColor(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return s.Bad
	case errorRate > 0.01:
		return s.Warn
	default:
		return s.Good
	}
}

// SuccessIcon returns a checkmark in the scheme's success color.
func (s *ColorScheme) SuccessIcon() string {
	return s.Good.Sprint("✓")
}

// ErrorIcon returns a cross in the scheme's failure color.
func (s *ColorScheme) ErrorIcon() string {
	return s.Bad.Sprint("✗")
}
