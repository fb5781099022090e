package plan

import (
	"embed"
	"path"
	"sort"
	"strings"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

const catalogPrefix = "catalog:"

// CatalogNames lists the built-in plans
func CatalogNames() []string {
	entries, err := catalogFS.ReadDir("catalog")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// LoadCatalog parses a built-in plan by name
func LoadCatalog(name string) (*Plan, error) {
	data, err := catalogFS.ReadFile(path.Join("catalog", name+".yaml"))
	if err != nil {
		return nil, apperrors.ConfigErrorf("no built-in plan named %q", name)
	}
	return Parse(data, catalogPrefix+name)
}

func isCatalogSource(source string) bool {
	return strings.HasPrefix(source, catalogPrefix)
}
