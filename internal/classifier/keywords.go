package classifier

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywords []byte

// CategoryKeywords pairs a category name with its match phrases.
type CategoryKeywords struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// KeywordTable is the ordered category taxonomy. Order is significant: the
// matcher walks categories and keywords in table order.
type KeywordTable []CategoryKeywords

// DefaultKeywordTable returns the taxonomy embedded in the binary.
func DefaultKeywordTable() (KeywordTable, error) {
	return ParseKeywordTable(defaultKeywords)
}

// LoadKeywordTable reads a YAML taxonomy from path. An empty path returns
// the default table.
func LoadKeywordTable(path string) (KeywordTable, error) {
	if path == "" {
		return DefaultKeywordTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword table: %w", err)
	}
	return ParseKeywordTable(data)
}

// ParseKeywordTable decodes and validates a YAML taxonomy.
func ParseKeywordTable(data []byte) (KeywordTable, error) {
	var table KeywordTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode keyword table: %w", err)
	}
	seen := make(map[string]struct{}, len(table))
	for i, entry := range table {
		name := strings.TrimSpace(entry.Category)
		if name == "" {
			return nil, fmt.Errorf("keyword table entry %d: category is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("keyword table: duplicate category %q", name)
		}
		seen[name] = struct{}{}
		table[i].Category = name
	}
	return table, nil
}

// Categories lists the category names in table order.
func (t KeywordTable) Categories() []string {
	out := make([]string, len(t))
	for i, e := range t {
		out[i] = e.Category
	}
	return out
}
