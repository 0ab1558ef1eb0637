package plugin

import (
	"time"

	"github.com/kolapsis/dateflow/internal/event"
	"github.com/kolapsis/dateflow/internal/task"
)

// SettingsStore persists plugin settings keyed by plugin identifier.
// *store.SQLiteStore satisfies it.
type SettingsStore interface {
	GetPluginSetting(pluginID, key string) (string, bool, error)
	SetPluginSetting(pluginID, key, value string) error
}

// Context is the capability-scoped surface a plugin uses to touch core
// state. Task operations proxy the task store, event operations proxy the
// bus under the plugin's identity, and settings are keyed by the plugin ID.
// Errors cross this boundary as values; a plugin fault never unwinds
// through core control flow.
type Context struct {
	pluginID string
	host     *Host
	tasks    *task.Store
	bus      *event.Bus
	settings SettingsStore
	specs    []SettingSpec
}

// PluginID returns the identity this context is scoped to.
func (c *Context) PluginID() string { return c.pluginID }

// --- Tasks ---

// GetAllTasks returns snapshots of every task.
func (c *Context) GetAllTasks() []task.Task { return c.tasks.ListAll() }

// GetTask returns a snapshot of one task.
func (c *Context) GetTask(id string) (task.Task, error) { return c.tasks.Get(id) }

// GetTasksInRange returns snapshots of tasks overlapping the range.
func (c *Context) GetTasksInRange(start, end time.Time) []task.Task {
	return c.tasks.ListInRange(start, end)
}

// GetTasksByTag returns snapshots of tasks carrying the tag.
func (c *Context) GetTasksByTag(tag string) []task.Task { return c.tasks.ListByTag(tag) }

// SearchTasks returns snapshots of tasks matching the query.
func (c *Context) SearchTasks(query string) []task.Task { return c.tasks.Search(query) }

// CreateTask creates a task through the store.
func (c *Context) CreateTask(t task.Task) (task.Task, error) { return c.tasks.Create(t) }

// UpdateTask applies a partial update through the store.
func (c *Context) UpdateTask(id string, p task.Patch) (task.Task, error) {
	return c.tasks.Update(id, p)
}

// DeleteTask removes a task through the store.
func (c *Context) DeleteTask(id string) error { return c.tasks.Delete(id) }

// CompleteTask marks a task completed through the store.
func (c *Context) CompleteTask(id string) (task.Task, error) { return c.tasks.Complete(id) }

// UncompleteTask reverts a completed task through the store.
func (c *Context) UncompleteTask(id string) (task.Task, error) { return c.tasks.Uncomplete(id) }

// --- Events ---

// RegisterEventHandler subscribes the plugin to an event type. Handlers of
// a disabled plugin are suppressed until re-enable; unloading the plugin
// removes the subscription regardless of cleanup outcome.
func (c *Context) RegisterEventHandler(typ string, h event.Handler) *event.Subscription {
	gated := func(e event.Event) error {
		if !c.host.isEnabled(c.pluginID) {
			return nil
		}
		return h(e)
	}
	sub := c.bus.SubscribeFor(c.pluginID, typ, gated)
	c.host.trackSubscription(c.pluginID, sub)
	return sub
}

// UnregisterEventHandler removes a subscription created by
// RegisterEventHandler.
func (c *Context) UnregisterEventHandler(sub *event.Subscription) {
	c.bus.Unsubscribe(sub)
	c.host.untrackSubscription(c.pluginID, sub)
}

// EmitEvent publishes an event on the bus under the plugin's identity.
func (c *Context) EmitEvent(typ string, payload any) {
	c.bus.Emit(typ, payload)
}

// --- Settings ---

// GetPluginSetting returns the stored value of a setting, falling back to
// the declared spec default, then to def.
func (c *Context) GetPluginSetting(key, def string) string {
	if c.settings != nil {
		value, ok, err := c.settings.GetPluginSetting(c.pluginID, key)
		if err == nil && ok {
			return value
		}
	}
	for _, spec := range c.specs {
		if spec.Key == key && spec.Default != "" {
			return spec.Default
		}
	}
	return def
}

// SetPluginSetting stores a setting value and notifies the plugin if it
// implements SettingsWatcher.
func (c *Context) SetPluginSetting(key, value string) error {
	if c.settings == nil {
		return nil
	}
	if err := c.settings.SetPluginSetting(c.pluginID, key, value); err != nil {
		return err
	}
	c.host.notifySettingsChanged(c.pluginID, key, value)
	return nil
}

// --- Views ---

// RegisterView records a named view contributed by the plugin. The core
// only bookkeeps view names; rendering belongs to external collaborators.
func (c *Context) RegisterView(name string) {
	c.host.registerView(c.pluginID, name)
}

// UnregisterView removes a previously registered view.
func (c *Context) UnregisterView(name string) {
	c.host.unregisterView(c.pluginID, name)
}
