package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// configPaths are read in order; missing files are skipped. Flags win over
// file values.
var configPaths = []string{
	"cropframe.yaml",
	"~/.config/cropframe/config.yaml",
}

// loadYAMLConfig is a kong.ConfigurationLoader. Keys are flag names with
// dashes or in snake_case, optionally nested under the command name:
//
//	frame_size: 500
//	serve:
//	  open: false
func loadYAMLConfig(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	flat := map[string]any{}
	flattenConfig("", values, flat)

	var f kong.ResolverFunc = func(_ *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		for _, key := range configKeys(parent, flag) {
			if raw, ok := flat[key]; ok {
				return configValue(raw), nil
			}
		}
		return nil, nil
	}
	return f, nil
}

func flattenConfig(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := normalizeConfigKey(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := v.(map[string]any); ok {
			flattenConfig(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func configKeys(parent *kong.Path, flag *kong.Flag) []string {
	name := normalizeConfigKey(flag.Name)
	var keys []string
	if parent != nil && parent.Command != nil {
		keys = append(keys, normalizeConfigKey(parent.Command.Name)+"."+name)
	}
	return append(keys, name)
}

func normalizeConfigKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

// configValue turns YAML scalars into the string form kong's mappers accept.
func configValue(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

// CropPolicy holds the tunables shared by every command that renders.
type CropPolicy struct {
	FrameSize          int     `help:"Side of the square crop frame in display pixels." default:"500"`
	ZoomMultiplier     float64 `help:"Maximum zoom as a multiple of the cover-fit scale." default:"3"`
	ResolutionCap      int     `help:"Maximum side of the rendered crop in pixels." default:"1080"`
	JPEGQuality        int     `name:"jpeg-quality" help:"JPEG quality of the rendered crop (1-100)." default:"95"`
	RenderOnGestureEnd bool    `help:"Render once when a drag ends instead of on every move."`
}

func (p CropPolicy) Validate() error {
	var errs []error
	if p.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %d", p.FrameSize))
	}
	if p.ZoomMultiplier < 1 {
		errs = append(errs, fmt.Errorf("zoom multiplier must be at least 1, got %g", p.ZoomMultiplier))
	}
	if p.ResolutionCap <= 0 {
		errs = append(errs, fmt.Errorf("resolution cap must be positive, got %d", p.ResolutionCap))
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be within 1..100, got %d", p.JPEGQuality))
	}
	return errors.Join(errs...)
}

func (p CropPolicy) CropperConfig() CropperConfig {
	return CropperConfig{
		FrameSize:          p.FrameSize,
		ZoomMultiplier:     p.ZoomMultiplier,
		ResolutionCap:      p.ResolutionCap,
		Quality:            p.JPEGQuality,
		RenderOnGestureEnd: p.RenderOnGestureEnd,
	}
}

type LogOptions struct {
	Verbose bool   `help:"Enable verbose logging" default:"false"`
	LogFile string `help:"Also write JSON logs to this file, rotated." type:"path"`
}
