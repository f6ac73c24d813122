package eventcore

import "testing"

func TestLookupBroadcastEventKnown(t *testing.T) {
	factory, err := LookupBroadcastEvent("bgtask_done")
	if err != nil {
		t.Fatalf("expected bgtask_done to be registered: %v", err)
	}
	event, err := factory([]interface{}{"not-a-uuid"})
	if err == nil {
		t.Errorf("expected a parse error for an invalid uuid, got event %v", event)
	}
}

func TestLookupBroadcastEventUnknown(t *testing.T) {
	_, err := LookupBroadcastEvent("no_such_event")
	if err == nil {
		t.Fatal("expected an error for an unregistered event name")
	}
}

func TestRegisterBroadcastEventDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic registering a duplicate event name")
		}
	}()
	RegisterBroadcastEvent("bgtask_done", func([]interface{}) (Event, error) { return nil, nil })
}

func TestAnycastEventsAreNotRegistered(t *testing.T) {
	if _, err := LookupBroadcastEvent("do_schedule"); err == nil {
		t.Error("anycast events are dispatched via their handler's own factory, not the broadcast registry")
	}
}
