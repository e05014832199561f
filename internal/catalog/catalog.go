// Package catalog classifies Android packages by removal risk using an
// embedded table of known packages and name-based heuristics.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/benmeehan/debloat-agent/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed packages.yaml
var embeddedTable []byte

const unknownReason = "No information available for this package."

type tableFile struct {
	Packages []models.CatalogEntry `yaml:"packages"`
}

// Catalog is a read-only knowledge base. It is safe for concurrent use.
type Catalog struct {
	entries map[string]models.CatalogEntry
}

// rule maps any matching name fragment to a level. Rules apply in order.
type rule struct {
	fragments []string
	level     models.SafetyLevel
}

var heuristics = []rule{
	{[]string{"com.facebook", "com.instagram", "com.tiktok"}, models.SafetyCaution},
	{[]string{"com.google.android.gms", "com.android.vending", "com.android.systemui"}, models.SafetyDangerous},
	{[]string{"com.samsung", "com.xiaomi", "com.miui", "com.huawei", "com.oppo", "com.vivo"}, models.SafetyCaution},
}

// Default returns the catalog built from the embedded table.
func Default() *Catalog {
	c, err := Parse(embeddedTable)
	if err != nil {
		panic(fmt.Sprintf("embedded package table is invalid: %v", err))
	}
	return c
}

// Parse builds a catalog from a YAML table.
func Parse(data []byte) (*Catalog, error) {
	var table tableFile
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to decode package table: %w", err)
	}

	c := &Catalog{entries: make(map[string]models.CatalogEntry, len(table.Packages))}
	for _, entry := range table.Packages {
		if entry.Name == "" {
			return nil, fmt.Errorf("package table entry without a name")
		}
		if !entry.SafetyLevel.Valid() {
			return nil, fmt.Errorf("package %s has unknown safety level %q", entry.Name, entry.SafetyLevel)
		}
		c.entries[entry.Name] = entry
	}
	return c, nil
}

// Lookup returns the table entry for pkg.
func (c *Catalog) Lookup(pkg string) (models.CatalogEntry, bool) {
	entry, ok := c.entries[pkg]
	return entry, ok
}

// SafetyLevel grades pkg. Table entries win over the heuristics; unknown
// packages default to Safe.
func (c *Catalog) SafetyLevel(pkg string) models.SafetyLevel {
	if entry, ok := c.entries[pkg]; ok {
		return entry.SafetyLevel
	}
	for _, r := range heuristics {
		for _, fragment := range r.fragments {
			if strings.Contains(pkg, fragment) {
				return r.level
			}
		}
	}
	return models.SafetySafe
}

// DisplayName returns the table name, or a title-cased form of the last
// dotted segment: com.example.my_app becomes "My App".
func (c *Catalog) DisplayName(pkg string) string {
	if entry, ok := c.entries[pkg]; ok {
		return entry.DisplayName
	}

	last := pkg[strings.LastIndex(pkg, ".")+1:]
	words := strings.Split(last, "_")
	for i, word := range words {
		words[i] = capitalize(word)
	}
	return strings.Join(words, " ")
}

// Reason explains the classification of a known package.
func (c *Catalog) Reason(pkg string) string {
	if entry, ok := c.entries[pkg]; ok {
		return entry.Reason
	}
	return unknownReason
}

// IsSafeToRemove reports whether pkg grades Safe or Caution.
func (c *Catalog) IsSafeToRemove(pkg string) bool {
	switch c.SafetyLevel(pkg) {
	case models.SafetySafe, models.SafetyCaution:
		return true
	}
	return false
}

// Classify builds the record streamed to clients.
func (c *Catalog) Classify(pkg string) models.PackageRecord {
	return models.PackageRecord{
		PackageName: pkg,
		AppName:     c.DisplayName(pkg),
		SafetyLevel: c.SafetyLevel(pkg),
	}
}

// All returns every known entry sorted by package name.
func (c *Catalog) All() []models.CatalogEntry {
	out := make([]models.CatalogEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Describe returns a catalog entry for any package, synthesizing one for
// packages missing from the table.
func (c *Catalog) Describe(pkg string) models.CatalogEntry {
	if entry, ok := c.entries[pkg]; ok {
		return entry
	}
	return models.CatalogEntry{
		Name:        pkg,
		DisplayName: c.DisplayName(pkg),
		SafetyLevel: c.SafetyLevel(pkg),
		Reason:      unknownReason,
	}
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + word[size:]
}
