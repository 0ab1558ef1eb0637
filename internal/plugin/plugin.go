// Package plugin hosts external modules that observe and mutate scheduled
// state through a capability-scoped context.
package plugin

import "errors"

// Sentinel errors for the host taxonomy. Callers match them with errors.Is.
var (
	ErrLifecycle = errors.New("plugin lifecycle error")
	ErrNotFound  = errors.New("plugin not found")
)

// LifecycleState tracks a plugin through discovered → initialized →
// enabled ⇄ disabled, with failed reachable from discovered or initialized.
type LifecycleState string

const (
	StateDiscovered  LifecycleState = "discovered"
	StateInitialized LifecycleState = "initialized"
	StateEnabled     LifecycleState = "enabled"
	StateDisabled    LifecycleState = "disabled"
	StateFailed      LifecycleState = "failed"
)

// SettingType enumerates the value kinds a plugin setting may declare.
type SettingType string

const (
	SettingString  SettingType = "string"
	SettingNumber  SettingType = "number"
	SettingBoolean SettingType = "boolean"
	SettingTime    SettingType = "time"
	SettingDate    SettingType = "date"
	SettingColor   SettingType = "color"
)

// SettingSpec declares one configurable setting of a plugin.
type SettingSpec struct {
	Key         string      `yaml:"key"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Type        SettingType `yaml:"type"`
	Default     string      `yaml:"default"`
}

// Descriptor is the metadata a plugin declares about itself.
type Descriptor struct {
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	Description string        `yaml:"description"`
	Author      string        `yaml:"author"`
	Requires    []string      `yaml:"requires"`
	Settings    []SettingSpec `yaml:"settings"`
}

// Plugin is the entry point contract every plugin implements. Optional
// lifecycle hooks are declared through the narrower interfaces below; a
// plugin that does not implement them gets no-op behavior.
type Plugin interface {
	// Descriptor returns the plugin's declared metadata.
	Descriptor() Descriptor

	// Initialize is called once when the plugin is loaded. The context is
	// scoped to this plugin and is the only surface through which it may
	// touch core state. Returning an error fails the load.
	Initialize(ctx *Context) error

	// Cleanup is called on unload. The host removes the plugin's event
	// subscriptions and views afterward even if Cleanup fails.
	Cleanup() error
}

// EnableHooks is implemented by plugins that want to observe enable and
// disable transitions.
type EnableHooks interface {
	OnEnable()
	OnDisable()
}

// SettingsWatcher is implemented by plugins that want to observe changes
// to their own settings.
type SettingsWatcher interface {
	OnSettingsChanged(key, value string)
}

// Constructor builds a fresh plugin instance. Plugins are registered as
// constructors keyed by plugin ID at a well-defined startup phase.
type Constructor func() Plugin

// EnabledEvent is the payload of a plugin_enabled event.
type EnabledEvent struct {
	PluginID string
}

// DisabledEvent is the payload of a plugin_disabled event.
type DisabledEvent struct {
	PluginID string
}

// Record is a snapshot of a plugin's state within the host.
type Record struct {
	ID         string
	Descriptor Descriptor
	State      LifecycleState
	Faults     int
	Views      []string
	Handlers   int
}
