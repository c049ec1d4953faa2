// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// dummyStage sleeps for a delay or until closed.
type dummyStage struct {
	delay time.Duration
}

func (ds *dummyStage) Handle(state *State, closeChan <-chan struct{}) {
	select {
	case <-time.After(ds.delay):
	case <-closeChan:
		state.StageError = StageClose
	}
}

func TestStageHandlerDummy(t *testing.T) {
	s1 := dummyStage{delay: 50 * time.Millisecond}
	s2 := dummyStage{delay: 100 * time.Millisecond}

	sh := NewStageHandler([]StageSetup{{Stage: &s1}, {Stage: &s2}}, nil, Configuration{})

	select {
	case err := <-sh.Error():
		if err != nil {
			t.Fatal(err)
		}

	case <-time.After(2 * (s1.delay + s2.delay)):
		t.Fatal("timeout")
	}
}

func TestStageHandlerClose(t *testing.T) {
	sh := NewStageHandler([]StageSetup{{Stage: &dummyStage{delay: time.Minute}}}, nil, Configuration{})
	_ = sh.Close()
	_ = sh.Close()

	select {
	case err := <-sh.Error():
		if err != StageClose {
			t.Fatalf("Closed stage returned %v", err)
		}

	case <-time.After(250 * time.Millisecond):
		t.Fatal("timeout")
	}
}

func TestStageHandlerHooks(t *testing.T) {
	var pre, post int64

	stages := []StageSetup{
		{
			Stage: &dummyStage{delay: 10 * time.Millisecond},
			PreHook: func(_ *StageHandler, _ *State) error {
				atomic.StoreInt64(&pre, time.Now().UnixNano())
				return nil
			},
			PostHook: func(_ *StageHandler, _ *State) error {
				atomic.StoreInt64(&post, time.Now().UnixNano())
				return errors.New("post hook failure")
			},
		},
		{Stage: &dummyStage{delay: time.Minute}},
	}

	sh := NewStageHandler(stages, nil, Configuration{})

	select {
	case err := <-sh.Error():
		if err == nil || err.Error() != "post hook failure" {
			t.Fatalf("Expected the post hook's error, got %v", err)
		}

	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	if p1, p2 := atomic.LoadInt64(&pre), atomic.LoadInt64(&post); p1 == 0 || p2 < p1 {
		t.Fatalf("Hooks were not called in order: %d, %d", p1, p2)
	}
}
