package plugin

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kolapsis/dateflow/internal/event"
	"github.com/kolapsis/dateflow/internal/task"
)

type record struct {
	id         string
	descriptor Descriptor
	state      LifecycleState
	faults     int
	instance   Plugin
	ctx        *Context
	subs       []*event.Subscription
	views      []string
}

// Host loads, enables, disables and tears down plugin instances, mediating
// all their access to the task store and event bus through per-plugin
// contexts.
type Host struct {
	tasks    *task.Store
	bus      *event.Bus
	settings SettingsStore

	mu           sync.Mutex
	constructors map[string]Constructor
	records      map[string]*record
}

// NewHost creates a plugin host. The settings store may be nil, in which
// case plugin settings fall back to their declared defaults.
func NewHost(tasks *task.Store, bus *event.Bus, settings SettingsStore) *Host {
	h := &Host{
		tasks:        tasks,
		bus:          bus,
		settings:     settings,
		constructors: make(map[string]Constructor),
		records:      make(map[string]*record),
	}
	bus.SetFaultFunc(h.HandleFault)
	return h
}

// Register adds a plugin constructor under an ID, moving it to discovered.
// Registering an already-known ID replaces the constructor only while the
// plugin is not loaded.
func (h *Host) Register(id string, ctor Constructor) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec, ok := h.records[id]; ok && rec.instance != nil {
		return fmt.Errorf("%w: plugin %s is loaded", ErrLifecycle, id)
	}
	h.constructors[id] = ctor
	h.records[id] = &record{id: id, state: StateDiscovered}
	slog.Debug("plugin registered", "plugin_id", id)
	return nil
}

// Load constructs and initializes a plugin. An initialization error or
// panic moves the record to failed and the plugin receives no further
// calls. A loaded plugin starts initialized; Enable activates it.
func (h *Host) Load(id string) error {
	h.mu.Lock()
	ctor, ok := h.constructors[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := h.records[id]
	if rec.instance != nil {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	instance := ctor()
	desc := instance.Descriptor()
	ctx := &Context{
		pluginID: id,
		host:     h,
		tasks:    h.tasks,
		bus:      h.bus,
		settings: h.settings,
		specs:    desc.Settings,
	}

	if err := initialize(instance, ctx); err != nil {
		h.mu.Lock()
		rec.state = StateFailed
		rec.descriptor = desc
		h.mu.Unlock()
		// Initialization may have registered handlers before failing.
		h.bus.UnsubscribeOwner(id)
		slog.Error("plugin initialization failed", "plugin_id", id, "error", err)
		return fmt.Errorf("%w: initializing %s: %v", ErrLifecycle, id, err)
	}

	h.mu.Lock()
	rec.instance = instance
	rec.descriptor = desc
	rec.ctx = ctx
	rec.state = StateInitialized
	h.mu.Unlock()

	slog.Info("plugin loaded", "plugin_id", id, "version", desc.Version)
	return nil
}

// initialize calls the plugin entry point, converting a panic into an error
// so a misbehaving plugin cannot unwind through the host.
func initialize(p Plugin, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panicked: %v", r)
		}
	}()
	return p.Initialize(ctx)
}

// Unload tears a plugin down. Its event subscriptions and views are removed
// unconditionally, even when Cleanup fails, so no dangling subscription
// survives. The record returns to discovered.
func (h *Host) Unload(id string) error {
	h.mu.Lock()
	rec, ok := h.records[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	instance := rec.instance
	h.mu.Unlock()

	if instance == nil {
		return nil
	}

	cleanupErr := cleanup(instance)

	h.bus.UnsubscribeOwner(id)

	h.mu.Lock()
	rec.instance = nil
	rec.ctx = nil
	rec.subs = nil
	rec.views = nil
	rec.state = StateDiscovered
	h.mu.Unlock()

	if cleanupErr != nil {
		slog.Warn("plugin cleanup failed", "plugin_id", id, "error", cleanupErr)
		return fmt.Errorf("%w: cleaning up %s: %v", ErrLifecycle, id, cleanupErr)
	}
	slog.Info("plugin unloaded", "plugin_id", id)
	return nil
}

func cleanup(p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panicked: %v", r)
		}
	}()
	return p.Cleanup()
}

// Enable activates a loaded plugin: its handlers receive events again, its
// OnEnable hook runs, and a plugin_enabled event is emitted.
func (h *Host) Enable(id string) error {
	h.mu.Lock()
	rec, ok := h.records[id]
	if !ok || rec.instance == nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s is not loaded", ErrNotFound, id)
	}
	if rec.state == StateEnabled {
		h.mu.Unlock()
		return nil
	}
	rec.state = StateEnabled
	instance := rec.instance
	h.mu.Unlock()

	if hooks, ok := instance.(EnableHooks); ok {
		hooks.OnEnable()
	}
	slog.Info("plugin enabled", "plugin_id", id)
	h.bus.Emit(event.PluginEnabled, EnabledEvent{PluginID: id})
	return nil
}

// Disable suppresses a plugin's event handlers without unloading it. The
// plugin keeps its state and subscriptions; they deliver again on Enable.
func (h *Host) Disable(id string) error {
	h.mu.Lock()
	rec, ok := h.records[id]
	if !ok || rec.instance == nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s is not loaded", ErrNotFound, id)
	}
	if rec.state == StateDisabled {
		h.mu.Unlock()
		return nil
	}
	rec.state = StateDisabled
	instance := rec.instance
	h.mu.Unlock()

	if hooks, ok := instance.(EnableHooks); ok {
		hooks.OnDisable()
	}
	slog.Info("plugin disabled", "plugin_id", id)
	h.bus.Emit(event.PluginDisabled, DisabledEvent{PluginID: id})
	return nil
}

// LoadEnabled loads and enables each listed plugin, typically from the
// enabled set in configuration. Failures are per-plugin: one plugin's
// failure does not stop the rest. The returned map reports each outcome.
func (h *Host) LoadEnabled(ids []string) map[string]error {
	results := make(map[string]error, len(ids))
	for _, id := range ids {
		if err := h.Load(id); err != nil {
			results[id] = err
			continue
		}
		results[id] = h.Enable(id)
	}
	return results
}

// UnloadAll tears down every loaded plugin, for shutdown.
func (h *Host) UnloadAll() {
	h.mu.Lock()
	var loaded []string
	for id, rec := range h.records {
		if rec.instance != nil {
			loaded = append(loaded, id)
		}
	}
	h.mu.Unlock()

	sort.Strings(loaded)
	for _, id := range loaded {
		if err := h.Unload(id); err != nil {
			slog.Warn("unload failed during shutdown", "plugin_id", id, "error", err)
		}
	}
}

// Records returns snapshots of every known plugin, sorted by ID.
func (h *Host) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Record, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, Record{
			ID:         rec.id,
			Descriptor: rec.descriptor,
			State:      rec.state,
			Faults:     rec.faults,
			Views:      append([]string(nil), rec.views...),
			Handlers:   len(rec.subs),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Faults returns the non-fatal fault count recorded against a plugin.
func (h *Host) Faults(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[id]; ok {
		return rec.faults
	}
	return 0
}

// HandleFault is the bus fault callback: a handler failure is counted
// against its owning plugin. Disabling a repeatedly faulting plugin is a
// policy decision left to the operator; the host only keeps the score.
func (h *Host) HandleFault(owner string, e event.Event, err error) {
	if owner == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[owner]; ok {
		rec.faults++
	}
}

func (h *Host) isEnabled(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	return ok && rec.state == StateEnabled
}

func (h *Host) trackSubscription(id string, sub *event.Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[id]; ok {
		rec.subs = append(rec.subs, sub)
	}
}

func (h *Host) untrackSubscription(id string, sub *event.Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok {
		return
	}
	for i, have := range rec.subs {
		if have == sub {
			rec.subs = append(rec.subs[:i], rec.subs[i+1:]...)
			return
		}
	}
}

func (h *Host) registerView(id, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[id]; ok {
		rec.views = append(rec.views, name)
	}
}

func (h *Host) unregisterView(id, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok {
		return
	}
	for i, have := range rec.views {
		if have == name {
			rec.views = append(rec.views[:i], rec.views[i+1:]...)
			return
		}
	}
}

func (h *Host) notifySettingsChanged(id, key, value string) {
	h.mu.Lock()
	rec, ok := h.records[id]
	var instance Plugin
	if ok {
		instance = rec.instance
	}
	h.mu.Unlock()

	if watcher, ok := instance.(SettingsWatcher); ok {
		watcher.OnSettingsChanged(key, value)
	}
}
