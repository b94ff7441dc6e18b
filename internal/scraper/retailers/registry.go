package retailers

import "sort"

// Constructor builds a fresh strategy instance
type Constructor func() Strategy

var registry = map[string]Constructor{
	"leclerc":     func() Strategy { return NewLeclerc() },
	"lidl":        NewLidl,
	"aldi":        NewAldi,
	"carrefour":   func() Strategy { return NewCarrefour() },
	"auchan":      NewAuchan,
	"intermarche": NewIntermarche,
}

// All returns the constructor of every supported retailer by identifier
func All() map[string]Constructor {
	out := make(map[string]Constructor, len(registry))
	for name, ctor := range registry {
		out[name] = ctor
	}
	return out
}

// Names returns the supported identifiers, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether name is a supported identifier
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}
