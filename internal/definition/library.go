package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Library holds validated, immutable pack and recipe definitions.
//
// Definitions are loaded once at startup; the library is read-only after
// that and safe for concurrent use.
type Library struct {
	packs   map[string]*Pack
	recipes map[string]*Recipe
}

// Logger is the minimal logging interface the loader needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Load reads every pack from packsDir and every recipe from recipesDir,
// validates them, and returns the library. Any invalid definition fails
// the whole load: a partially valid library would let a broken write pack
// hide until someone runs it.
func Load(packsDir, recipesDir string, logger Logger) (*Library, error) {
	lib := &Library{
		packs:   make(map[string]*Pack),
		recipes: make(map[string]*Recipe),
	}

	packFiles, err := definitionFiles(packsDir)
	if err != nil {
		return nil, fmt.Errorf("listing packs: %w", err)
	}
	for _, path := range packFiles {
		pack, err := LoadPack(path)
		if err != nil {
			return nil, err
		}
		if _, dup := lib.packs[pack.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate pack name %q (%s)", ErrInvalid, pack.Name(), path)
		}
		lib.packs[pack.Name()] = pack
	}

	recipeFiles, err := definitionFiles(recipesDir)
	if err != nil {
		return nil, fmt.Errorf("listing recipes: %w", err)
	}
	for _, path := range recipeFiles {
		recipe, err := LoadRecipe(path, lib.packs)
		if err != nil {
			return nil, err
		}
		if _, dup := lib.recipes[recipe.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate recipe name %q (%s)", ErrInvalid, recipe.Name, path)
		}
		lib.recipes[recipe.Name] = recipe
	}

	if logger != nil {
		logger.Info("definitions loaded", "packs", len(lib.packs), "recipes", len(lib.recipes))
	}
	return lib, nil
}

// NewLibrary builds a library from already-constructed definitions,
// validating each. Used by tests and embedded deployments.
func NewLibrary(packs []*Pack, recipes []*Recipe) (*Library, error) {
	lib := &Library{
		packs:   make(map[string]*Pack, len(packs)),
		recipes: make(map[string]*Recipe, len(recipes)),
	}
	for _, p := range packs {
		if err := ValidatePack(p); err != nil {
			return nil, err
		}
		lib.packs[p.Name()] = p
	}
	for _, r := range recipes {
		if err := ValidateRecipe(r, lib.packs); err != nil {
			return nil, err
		}
		lib.recipes[r.Name] = r
	}
	return lib, nil
}

// LoadPack reads and validates a single pack file.
func LoadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pack file: %w", err)
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, path, err)
	}
	if pack.Metadata.Name == "" {
		pack.Metadata.Name = stem(path)
	}

	if err := ValidatePack(&pack); err != nil {
		return nil, err
	}
	return &pack, nil
}

// LoadRecipe reads and validates a single recipe file against the pack
// library.
func LoadRecipe(path string, packs map[string]*Pack) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe file: %w", err)
	}

	var recipe Recipe
	if err := yaml.Unmarshal(data, &recipe); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, path, err)
	}
	if recipe.Name == "" {
		recipe.Name = stem(path)
	}

	if err := ValidateRecipe(&recipe, packs); err != nil {
		return nil, err
	}
	return &recipe, nil
}

// Pack returns a pack by name.
func (l *Library) Pack(name string) (*Pack, error) {
	pack, ok := l.packs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPackNotFound, name)
	}
	return pack, nil
}

// Recipe returns a recipe by name.
func (l *Library) Recipe(name string) (*Recipe, error) {
	recipe, ok := l.recipes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecipeNotFound, name)
	}
	return recipe, nil
}

// PackNames returns all pack names, sorted.
func (l *Library) PackNames() []string {
	names := make([]string, 0, len(l.packs))
	for name := range l.packs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecipeNames returns all recipe names, sorted.
func (l *Library) RecipeNames() []string {
	names := make([]string, 0, len(l.recipes))
	for name := range l.recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// definitionFiles lists the YAML files in a directory, sorted. A missing
// directory yields an empty list, not an error: a deployment may ship
// packs without recipes.
func definitionFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "_") {
			continue
		}
		if ext := filepath.Ext(name); ext != ".yml" && ext != ".yaml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// stem returns a filename without directory or extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
