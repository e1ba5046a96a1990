package core

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type lifecycleModule struct {
	id       ModuleID
	events   *[]string
	startErr error
}

func (m *lifecycleModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { return m }}
}

func (m *lifecycleModule) Start() error {
	*m.events = append(*m.events, "start "+string(m.id))
	return m.startErr
}

func (m *lifecycleModule) Stop(context.Context) error {
	*m.events = append(*m.events, "stop "+string(m.id))
	return nil
}

func TestApp_StartStopOrder(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "store.a", events: &events})
	RegisterModule(&lifecycleModule{id: "gateway.b", events: &events})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	if err := app.LoadModules([]string{"store.a", "gateway.b"}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	app.AppendModule("pipeline", &lifecycleModule{id: "pipeline", events: &events})

	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()

	want := []string{
		"start store.a", "start gateway.b", "start pipeline",
		"stop pipeline", "stop gateway.b", "stop store.a",
	}
	if !slices.Equal(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestApp_StartFailureRollsBack(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "store.a", events: &events})
	RegisterModule(&lifecycleModule{id: "gateway.b", events: &events, startErr: errors.New("port in use")})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	if err := app.LoadModules([]string{"store.a", "gateway.b"}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}

	if err := app.Start(); err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start store.a", "start gateway.b", "stop store.a"}
	if !slices.Equal(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestApp_Module(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "store.a", events: &events})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	if err := app.LoadModules([]string{"store.a"}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}

	if _, ok := app.Module("store.a"); !ok {
		t.Error("expected loaded module to be found")
	}
	if _, ok := app.Module("missing"); ok {
		t.Error("unexpected module found")
	}
}

// closerModule has a Stop step but no Start step.
type closerModule struct {
	id     ModuleID
	events *[]string
}

func (m *closerModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { return m }}
}

func (m *closerModule) Stop(context.Context) error {
	*m.events = append(*m.events, "stop "+string(m.id))
	return nil
}

func TestApp_StopIncludesModulesWithoutStart(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&closerModule{id: "store.a", events: &events})
	RegisterModule(&lifecycleModule{id: "gateway.b", events: &events})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	if err := app.LoadModules([]string{"store.a", "gateway.b"}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()
	// Close after Stop must not stop anything twice.
	app.Close()

	want := []string{"start gateway.b", "stop gateway.b", "stop store.a"}
	if !slices.Equal(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestApp_CloseWithoutStart(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&closerModule{id: "store.a", events: &events})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	if err := app.LoadModules([]string{"store.a"}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	app.Close()

	if !slices.Equal(events, []string{"stop store.a"}) {
		t.Errorf("events = %v", events)
	}
}
