// Package shade manages the foundation shade catalog: the predefined
// shades shipped with the binary plus shades added by the user.
package shade

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/tryon/internal/types"
)

//go:embed shades.yaml
var predefinedYAML []byte

// CustomCategory is assigned to every user-created shade.
const CustomCategory = "Custom"

var (
	ErrInvalidColor = errors.New("invalid color hex")
	ErrDuplicateID  = errors.New("duplicate shade id")
	ErrEmptyName    = errors.New("shade name is required")
)

// Persister stores custom shades across sessions. It is optional.
type Persister interface {
	ListCustomShades(ctx context.Context) ([]types.Shade, error)
	SaveCustomShade(ctx context.Context, s types.Shade) error
}

type catalogFile struct {
	Shades []types.Shade `yaml:"shades"`
}

// Catalog is the ordered list of predefined and custom shades.
// Shades are only ever appended.
type Catalog struct {
	mu      sync.RWMutex
	shades  []types.Shade
	byID    map[string]int
	persist Persister
}

// Predefined decodes the embedded shade list.
func Predefined() ([]types.Shade, error) {
	var f catalogFile
	if err := yaml.Unmarshal(predefinedYAML, &f); err != nil {
		return nil, fmt.Errorf("failed to parse predefined shades: %w", err)
	}
	return f.Shades, nil
}

// New builds a catalog holding the predefined shades. p may be nil.
func New(p Persister) (*Catalog, error) {
	predefined, err := Predefined()
	if err != nil {
		return nil, err
	}
	c := &Catalog{byID: make(map[string]int), persist: p}
	for _, s := range predefined {
		if err := c.add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(s types.Shade) error {
	if _, err := ParseHex(s.ColorHex); err != nil {
		return fmt.Errorf("shade %q: %w", s.ID, err)
	}
	if _, ok := c.byID[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, s.ID)
	}
	c.byID[s.ID] = len(c.shades)
	c.shades = append(c.shades, s)
	return nil
}

// LoadCustom appends the persisted custom shades. It is a no-op without a
// Persister.
func (c *Catalog) LoadCustom(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	custom, err := c.persist.ListCustomShades(ctx)
	if err != nil {
		return fmt.Errorf("failed to load custom shades: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range custom {
		if _, ok := c.byID[s.ID]; ok {
			continue
		}
		if err := c.add(s); err != nil {
			return err
		}
	}
	return nil
}

// All returns a copy of every shade in catalog order.
func (c *Catalog) All() []types.Shade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Shade, len(c.shades))
	copy(out, c.shades)
	return out
}

func (c *Catalog) Get(id string) (types.Shade, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return types.Shade{}, false
	}
	return c.shades[i], true
}

// AddCustom creates a shade with a fresh unique ID, persists it when a
// Persister is configured, and appends it to the catalog.
func (c *Catalog) AddCustom(ctx context.Context, name, hex string) (types.Shade, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Shade{}, ErrEmptyName
	}
	rgba, err := ParseHex(hex)
	if err != nil {
		return types.Shade{}, err
	}

	s := types.Shade{
		ID:       "custom-" + uuid.NewString(),
		Name:     name,
		Category: CustomCategory,
		ColorHex: FormatHex(rgba),
	}

	if c.persist != nil {
		if err := c.persist.SaveCustomShade(ctx, s); err != nil {
			return types.Shade{}, fmt.Errorf("failed to save custom shade: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.add(s); err != nil {
		return types.Shade{}, err
	}
	return s, nil
}

// ParseHex parses "#RRGGBB" or "#RGB" (the leading '#' is optional) into an
// opaque color.
func ParseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(h) {
	case 3:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	case 6:
	default:
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// FormatHex renders c as upper-case "#RRGGBB".
func FormatHex(c color.RGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}
