// internal/browser/drivers/drivers.go
package drivers

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/coursewatch/internal/browser"
	"github.com/xkilldash9x/coursewatch/internal/browser/rodsession"
	"github.com/xkilldash9x/coursewatch/internal/browser/session"
	"github.com/xkilldash9x/coursewatch/internal/config"
)

type factory func(browser.Options) browser.Driver

var registry = map[string]factory{
	config.DriverChromedp: func(o browser.Options) browser.Driver { return session.NewDriver(o) },
	config.DriverRod:      func(o browser.Options) browser.Driver { return rodsession.NewDriver(o) },
}

// New returns the backend registered under name.
func New(name string, opts browser.Options) (browser.Driver, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown browser driver %q (available: %v)", name, Names())
	}
	return f(opts), nil
}

// Names lists the registered backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
