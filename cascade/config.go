package cascade

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fwdslsh/unify-sub006/cascade/internal/match"
	"github.com/fwdslsh/unify-sub006/horosafe"
)

// Config controls a Composer.
type Config struct {
	// AreaPrefix is the class prefix marking composable areas. Default "unify-".
	AreaPrefix string `yaml:"area_prefix"`

	// MaxDepth bounds layout and component nesting. Default 10.
	MaxDepth int `yaml:"max_depth"`

	DisableCache bool `yaml:"disable_cache"`

	// DefaultLayout is applied to pages carrying no layout directive.
	DefaultLayout string `yaml:"default_layout"`

	// Root limits which part of the source tree directives may reference.
	// Default "/", the whole tree.
	Root string `yaml:"root"`

	// Timeout bounds one composition; zero means none.
	Timeout time.Duration `yaml:"timeout"`

	Landmarks   LandmarkConfig    `yaml:"landmarks"`
	OrderedFill OrderedFillConfig `yaml:"ordered_fill"`

	Logger    *slog.Logger  `yaml:"-"`
	Validator PathValidator `yaml:"-"`
}

// LandmarkConfig controls landmark matching.
type LandmarkConfig struct {
	RequireSectioningRoot bool `yaml:"require_sectioning_root"`
}

// OrderedFillConfig controls positional section matching.
type OrderedFillConfig struct {
	// MaxDepth bounds the search below <main>. Zero means the default, 10.
	MaxDepth int `yaml:"max_depth"`

	// Disable turns positional section matching off.
	Disable bool `yaml:"disable"`

	DisableWarnings bool `yaml:"disable_warnings"`
}

func (c OrderedFillConfig) depth() int {
	if c.Disable {
		return 0
	}
	return c.MaxDepth
}

func (c *Config) defaults() {
	if c.AreaPrefix == "" {
		c.AreaPrefix = match.DefaultAreaPrefix
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 10
	}
	if c.Root == "" {
		c.Root = "/"
	}
	if c.OrderedFill.MaxDepth == 0 {
		c.OrderedFill.MaxDepth = match.DefaultOrderedFillDepth
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Validator == nil {
		c.Validator = horosafe.Validator{}
	}
}

func (c *Config) validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth %d must be >= 0", ErrInvalidConfig, c.MaxDepth)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout %s must be >= 0", ErrInvalidConfig, c.Timeout)
	}
	if len(c.AreaPrefix) < 2 {
		return fmt.Errorf("%w: area_prefix %q is too short", ErrInvalidConfig, c.AreaPrefix)
	}
	return nil
}
