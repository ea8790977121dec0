// Package migrations embeds the schema migration files.
package migrations

import (
	"embed"
	"sort"
)

//go:embed *.sql
var fs embed.FS

// Files returns the migration file names in apply order
func Files() []string {
	entries, err := fs.ReadDir(".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// Read returns the SQL for one migration file
func Read(name string) (string, error) {
	data, err := fs.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
