package plugin

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolapsis/dateflow/internal/event"
	"github.com/kolapsis/dateflow/internal/task"
)

// fakePlugin is a configurable plugin for host tests.
type fakePlugin struct {
	desc        Descriptor
	initErr     error
	initPanic   bool
	cleanupErr  error
	subscribeTo []string

	mu       sync.Mutex
	ctx      *Context
	received []event.Event
	enables  int
	disables int
	settings map[string]string
}

func (p *fakePlugin) Descriptor() Descriptor { return p.desc }

func (p *fakePlugin) Initialize(ctx *Context) error {
	p.ctx = ctx
	for _, typ := range p.subscribeTo {
		ctx.RegisterEventHandler(typ, func(e event.Event) error {
			p.mu.Lock()
			p.received = append(p.received, e)
			p.mu.Unlock()
			return nil
		})
	}
	if p.initPanic {
		panic("init exploded")
	}
	return p.initErr
}

func (p *fakePlugin) Cleanup() error { return p.cleanupErr }

func (p *fakePlugin) OnEnable() {
	p.mu.Lock()
	p.enables++
	p.mu.Unlock()
}

func (p *fakePlugin) OnDisable() {
	p.mu.Lock()
	p.disables++
	p.mu.Unlock()
}

func (p *fakePlugin) OnSettingsChanged(key, value string) {
	p.mu.Lock()
	if p.settings == nil {
		p.settings = make(map[string]string)
	}
	p.settings[key] = value
	p.mu.Unlock()
}

func (p *fakePlugin) eventCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

// memorySettings is an in-memory SettingsStore.
type memorySettings struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memorySettings) GetPluginSetting(pluginID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[pluginID+"/"+key]
	return v, ok, nil
}

func (m *memorySettings) SetPluginSetting(pluginID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[pluginID+"/"+key] = value
	return nil
}

func newHostFixture(t *testing.T) (*Host, *task.Store, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	tasks := task.NewStore(bus)
	return NewHost(tasks, bus, &memorySettings{}), tasks, bus
}

func registerFake(t *testing.T, h *Host, id string, p *fakePlugin) {
	t.Helper()
	if p.desc.Name == "" {
		p.desc = Descriptor{Name: id, Version: "1.0.0"}
	}
	require.NoError(t, h.Register(id, func() Plugin { return p }))
}

func TestHost_RegisterAndLoad_Lifecycle(t *testing.T) {
	t.Parallel()

	h, _, _ := newHostFixture(t)
	p := &fakePlugin{}
	registerFake(t, h, "demo", p)

	records := h.Records()
	require.Len(t, records, 1)
	assert.Equal(t, StateDiscovered, records[0].State)

	require.NoError(t, h.Load("demo"))
	records = h.Records()
	assert.Equal(t, StateInitialized, records[0].State)
	assert.Equal(t, "1.0.0", records[0].Descriptor.Version)

	// Loading twice is a no-op.
	require.NoError(t, h.Load("demo"))
}

func TestHost_Load_Unregistered(t *testing.T) {
	t.Parallel()

	h, _, _ := newHostFixture(t)

	err := h.Load("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHost_Load_InitializeErrorMarksFailed(t *testing.T) {
	t.Parallel()

	h, _, bus := newHostFixture(t)
	p := &fakePlugin{
		initErr:     errors.New("bad config"),
		subscribeTo: []string{event.TaskCreated},
	}
	registerFake(t, h, "broken", p)

	err := h.Load("broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLifecycle)

	records := h.Records()
	require.Len(t, records, 1)
	assert.Equal(t, StateFailed, records[0].State)

	// Subscriptions made before the failure were torn down.
	assert.Equal(t, 0, bus.SubscriberCount(event.TaskCreated))
}

func TestHost_Load_InitializePanicIsContained(t *testing.T) {
	t.Parallel()

	h, _, _ := newHostFixture(t)
	p := &fakePlugin{initPanic: true}
	registerFake(t, h, "panicky", p)

	var err error
	require.NotPanics(t, func() { err = h.Load("panicky") })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLifecycle)
	assert.Equal(t, StateFailed, h.Records()[0].State)
}

func TestHost_EnableDisable_HooksAndEvents(t *testing.T) {
	t.Parallel()

	h, _, bus := newHostFixture(t)
	p := &fakePlugin{}
	registerFake(t, h, "demo", p)
	require.NoError(t, h.Load("demo"))

	var transitions []string
	bus.Subscribe(event.PluginEnabled, func(e event.Event) error {
		transitions = append(transitions, "enabled")
		return nil
	})
	bus.Subscribe(event.PluginDisabled, func(e event.Event) error {
		transitions = append(transitions, "disabled")
		return nil
	})

	require.NoError(t, h.Enable("demo"))
	assert.Equal(t, StateEnabled, h.Records()[0].State)
	assert.Equal(t, 1, p.enables)

	require.NoError(t, h.Disable("demo"))
	assert.Equal(t, StateDisabled, h.Records()[0].State)
	assert.Equal(t, 1, p.disables)

	// Repeating the current state is a no-op, hooks included.
	require.NoError(t, h.Disable("demo"))
	assert.Equal(t, 1, p.disables)

	assert.Equal(t, []string{"enabled", "disabled"}, transitions)
}

func TestHost_Enable_NotLoaded(t *testing.T) {
	t.Parallel()

	h, _, _ := newHostFixture(t)
	registerFake(t, h, "demo", &fakePlugin{})

	assert.ErrorIs(t, h.Enable("demo"), ErrNotFound)
	assert.ErrorIs(t, h.Disable("demo"), ErrNotFound)
	assert.ErrorIs(t, h.Enable("ghost"), ErrNotFound)
}

func TestHost_DisabledPluginHandlersAreSuppressed(t *testing.T) {
	t.Parallel()

	h, _, bus := newHostFixture(t)
	p := &fakePlugin{subscribeTo: []string{event.TaskCreated}}
	registerFake(t, h, "demo", p)
	require.NoError(t, h.Load("demo"))
	require.NoError(t, h.Enable("demo"))

	bus.Emit(event.TaskCreated, nil)
	assert.Equal(t, 1, p.eventCount())

	require.NoError(t, h.Disable("demo"))
	bus.Emit(event.TaskCreated, nil)
	assert.Equal(t, 1, p.eventCount())

	require.NoError(t, h.Enable("demo"))
	bus.Emit(event.TaskCreated, nil)
	assert.Equal(t, 2, p.eventCount())
}

func TestHost_Unload_RemovesSubscriptions(t *testing.T) {
	t.Parallel()

	h, _, bus := newHostFixture(t)
	p := &fakePlugin{subscribeTo: []string{event.TaskCreated, event.ReminderDue}}
	registerFake(t, h, "demo", p)
	require.NoError(t, h.Load("demo"))
	require.NoError(t, h.Enable("demo"))

	require.NoError(t, h.Unload("demo"))

	assert.Equal(t, 0, bus.SubscriberCount(event.TaskCreated))
	assert.Equal(t, 0, bus.SubscriberCount(event.ReminderDue))
	assert.Equal(t, StateDiscovered, h.Records()[0].State)

	// Unloading an unloaded plugin is a no-op.
	require.NoError(t, h.Unload("demo"))
}

func TestHost_Unload_CleanupFailureStillRemovesSubscriptions(t *testing.T) {
	t.Parallel()

	h, _, bus := newHostFixture(t)
	p := &fakePlugin{
		cleanupErr:  errors.New("cleanup refused"),
		subscribeTo: []string{event.TaskCreated},
	}
	registerFake(t, h, "stubborn", p)
	require.NoError(t, h.Load("stubborn"))

	err := h.Unload("stubborn")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLifecycle)
	assert.Equal(t, 0, bus.SubscriberCount(event.TaskCreated))
	assert.Equal(t, StateDiscovered, h.Records()[0].State)
}

func TestHost_LoadEnabled_IsolatesFailures(t *testing.T) {
	t.Parallel()

	h, _, _ := newHostFixture(t)
	good := &fakePlugin{}
	registerFake(t, h, "good", good)
	registerFake(t, h, "bad", &fakePlugin{initErr: errors.New("nope")})

	results := h.LoadEnabled([]string{"good", "bad", "ghost"})
	require.Len(t, results, 3)
	assert.NoError(t, results["good"])
	assert.ErrorIs(t, results["bad"], ErrLifecycle)
	assert.ErrorIs(t, results["ghost"], ErrNotFound)

	for _, rec := range h.Records() {
		switch rec.ID {
		case "good":
			assert.Equal(t, StateEnabled, rec.State)
		case "bad":
			assert.Equal(t, StateFailed, rec.State)
		}
	}
	assert.Equal(t, 1, good.enables)
}

func TestHost_UnloadAll(t *testing.T) {
	t.Parallel()

	h, _, bus := newHostFixture(t)
	registerFake(t, h, "one", &fakePlugin{subscribeTo: []string{event.TaskCreated}})
	registerFake(t, h, "two", &fakePlugin{subscribeTo: []string{event.TaskCreated}})
	require.NoError(t, h.Load("one"))
	require.NoError(t, h.Load("two"))

	h.UnloadAll()

	assert.Equal(t, 0, bus.SubscriberCount(event.TaskCreated))
	for _, rec := range h.Records() {
		assert.Equal(t, StateDiscovered, rec.State)
	}
}

func TestHost_FaultCounting(t *testing.T) {
	t.Parallel()

	h, _, bus := newHostFixture(t)
	p := &fakePlugin{}
	registerFake(t, h, "faulty", p)
	require.NoError(t, h.Load("faulty"))
	require.NoError(t, h.Enable("faulty"))

	p.ctx.RegisterEventHandler(event.TaskCreated, func(event.Event) error {
		return errors.New("handler failure")
	})

	bus.Emit(event.TaskCreated, nil)
	bus.Emit(event.TaskCreated, nil)

	assert.Equal(t, 2, h.Faults("faulty"))
	assert.Equal(t, 0, h.Faults("other"))
}

func TestContext_Settings_FallbackChain(t *testing.T) {
	t.Parallel()

	h, _, _ := newHostFixture(t)
	p := &fakePlugin{
		desc: Descriptor{
			Name:    "weather",
			Version: "1.0.0",
			Settings: []SettingSpec{
				{Key: "city", Type: SettingString, Default: "Paris"},
			},
		},
	}
	require.NoError(t, h.Register("weather", func() Plugin { return p }))
	require.NoError(t, h.Load("weather"))

	// Declared default wins over the caller fallback.
	assert.Equal(t, "Paris", p.ctx.GetPluginSetting("city", "Lyon"))
	// Unknown key falls through to the caller fallback.
	assert.Equal(t, "7", p.ctx.GetPluginSetting("days", "7"))

	// A stored value wins over both, and the watcher is notified.
	require.NoError(t, p.ctx.SetPluginSetting("city", "Berlin"))
	assert.Equal(t, "Berlin", p.ctx.GetPluginSetting("city", "Lyon"))
	assert.Equal(t, "Berlin", p.settings["city"])
}

func TestContext_TaskProxies(t *testing.T) {
	t.Parallel()

	h, tasks, _ := newHostFixture(t)
	p := &fakePlugin{}
	registerFake(t, h, "demo", p)
	require.NoError(t, h.Load("demo"))

	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	created, err := p.ctx.CreateTask(task.Task{
		Title:     "From plugin",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Tags:      []string{"plugin"},
	})
	require.NoError(t, err)

	found, err := p.ctx.GetTask(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "From plugin", found.Title)

	assert.Len(t, p.ctx.GetAllTasks(), 1)
	assert.Len(t, p.ctx.GetTasksByTag("plugin"), 1)
	assert.Len(t, p.ctx.GetTasksInRange(start.Add(-time.Hour), start.Add(2*time.Hour)), 1)
	assert.Len(t, p.ctx.SearchTasks("from plugin"), 1)

	_, err = p.ctx.CompleteTask(created.ID)
	require.NoError(t, err)
	completed, err := tasks.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, completed.Status)

	require.NoError(t, p.ctx.DeleteTask(created.ID))
	_, err = tasks.Get(created.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestContext_Views(t *testing.T) {
	t.Parallel()

	h, _, _ := newHostFixture(t)
	p := &fakePlugin{}
	registerFake(t, h, "demo", p)
	require.NoError(t, h.Load("demo"))

	p.ctx.RegisterView("forecast")
	records := h.Records()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"forecast"}, records[0].Views)

	p.ctx.UnregisterView("forecast")
	assert.Empty(t, h.Records()[0].Views)
}

func TestHost_Register_RefusesReplacingLoadedPlugin(t *testing.T) {
	t.Parallel()

	h, _, _ := newHostFixture(t)
	registerFake(t, h, "demo", &fakePlugin{})
	require.NoError(t, h.Load("demo"))

	err := h.Register("demo", func() Plugin { return &fakePlugin{} })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLifecycle)
}
