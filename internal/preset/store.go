package preset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/patrickjm/imgscout/internal/filter"
)

// Preset is a named list of filter expressions.
type Preset struct {
	Name      string    `yaml:"name"`
	Where     []string  `yaml:"where"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

type Store struct {
	Root string
}

func (s Store) EnsureDir() error {
	return os.MkdirAll(s.Root, 0o755)
}

func (s Store) PresetPath(name string) string {
	return filepath.Join(s.Root, sanitizeName(name)+".yaml")
}

func (s Store) Load(name string) (Preset, error) {
	b, err := os.ReadFile(s.PresetPath(name))
	if err != nil {
		return Preset{}, err
	}
	var p Preset
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Preset{}, fmt.Errorf("preset %s: %w", name, err)
	}
	return p, nil
}

// Save validates every expression before writing. An existing preset keeps
// its creation time.
func (s Store) Save(name string, where []string) (Preset, bool, error) {
	name = sanitizeName(name)
	if name == "" {
		return Preset{}, false, errors.New("preset name required")
	}
	if len(where) == 0 {
		return Preset{}, false, errors.New("preset needs at least one filter")
	}
	if _, err := filter.ParseAll(where); err != nil {
		return Preset{}, false, err
	}
	if err := s.EnsureDir(); err != nil {
		return Preset{}, false, err
	}
	now := time.Now().UTC()
	p := Preset{Name: name, Where: where, CreatedAt: now, UpdatedAt: now}
	created := true
	if existing, err := s.Load(name); err == nil {
		p.CreatedAt = existing.CreatedAt
		created = false
	} else if !os.IsNotExist(err) {
		return Preset{}, false, err
	}
	b, err := yaml.Marshal(p)
	if err != nil {
		return Preset{}, false, err
	}
	return p, created, os.WriteFile(s.PresetPath(name), b, 0o644)
}

// Clauses loads the preset and parses its expressions.
func (s Store) Clauses(name string) ([]filter.Clause, error) {
	p, err := s.Load(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("preset %s not found", name)
		}
		return nil, err
	}
	return filter.ParseAll(p.Where)
}

func (s Store) List() ([]Preset, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	presets := make([]Preset, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		p, err := s.Load(strings.TrimSuffix(entry.Name(), ".yaml"))
		if err != nil {
			continue
		}
		presets = append(presets, p)
	}
	sort.Slice(presets, func(i, j int) bool {
		return presets[i].Name < presets[j].Name
	})
	return presets, nil
}

func (s Store) Remove(name string) error {
	if sanitizeName(name) == "" {
		return errors.New("preset name required")
	}
	err := os.Remove(s.PresetPath(name))
	if os.IsNotExist(err) {
		return fmt.Errorf("preset %s not found", name)
	}
	return err
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, string(filepath.Separator), "-")
	return name
}

func (p Preset) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, strings.Join(p.Where, "; "))
}
