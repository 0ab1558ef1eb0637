// Package builtin holds the plugins compiled into the daemon. They register
// through the same constructor registry external plugins would use.
package builtin

import "github.com/kolapsis/dateflow/internal/plugin"

// RegisterAll registers every built-in plugin constructor with the host.
func RegisterAll(h *plugin.Host) error {
	builtins := map[string]plugin.Constructor{
		"activity_log": func() plugin.Plugin { return &ActivityLog{} },
		"agenda":       func() plugin.Plugin { return &Agenda{} },
	}
	for id, ctor := range builtins {
		if err := h.Register(id, ctor); err != nil {
			return err
		}
	}
	return nil
}
