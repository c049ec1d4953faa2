// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package settings

import (
	"reflect"
	"testing"
	"time"

	"github.com/dtn7/sockline/pkg/engine"
)

func testStore(t *testing.T, store engine.SettingsStore) {
	if values, err := store.Load("unknown"); err != nil {
		t.Fatal(err)
	} else if len(values) != 0 {
		t.Fatalf("Unknown category has values %v", values)
	}

	values := map[string]string{"handshake": "true", "passphrase": "secret"}
	if err := store.Save("client", values); err != nil {
		t.Fatal(err)
	}

	// Modifying the saved map must not alter the store.
	values["passphrase"] = "changed"

	if loaded, err := store.Load("client"); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(loaded, map[string]string{"handshake": "true", "passphrase": "secret"}) {
		t.Fatalf("Loaded %v", loaded)
	}

	if err := store.Save("client", map[string]string{"handshake": "false"}); err != nil {
		t.Fatal(err)
	}
	if loaded, err := store.Load("client"); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(loaded, map[string]string{"handshake": "false"}) {
		t.Fatalf("Replaced values are %v", loaded)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	testStore(t, store)

	if err := store.Save("server", map[string]string{"max-client-connections": "5"}); err != nil {
		t.Fatal(err)
	}
	if categories, err := store.Categories(); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(categories, []string{"client", "server"}) {
		t.Fatalf("Categories are %v", categories)
	}

	if err := store.Delete("client"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete("client"); err != nil {
		t.Fatalf("Deleting twice resulted in %v", err)
	}

	store.DeleteOlder(time.Now().Add(time.Minute))
	if categories, err := store.Categories(); err != nil {
		t.Fatal(err)
	} else if len(categories) != 0 {
		t.Fatalf("Categories after deletion are %v", categories)
	}
}

func TestBadgerStoreReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save("client", map[string]string{"passphrase": "secret"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewBadgerStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if loaded, err := store.Load("client"); err != nil {
		t.Fatal(err)
	} else if loaded["passphrase"] != "secret" {
		t.Fatalf("Reopened store loaded %v", loaded)
	}
}

func TestLifecyclePersistence(t *testing.T) {
	store := NewMemoryStore()

	policy := engine.NewPolicy()
	if err := policy.SetPassphrase("persisted"); err != nil {
		t.Fatal(err)
	}

	lc := engine.NewLifecycle(engine.Disconnected, engine.Connected)
	if err := lc.Initialize(store, "client", engine.NewPolicy()); err != nil {
		t.Fatal(err)
	}
	if err := lc.Close(policy); err != nil {
		t.Fatal(err)
	}

	restored := engine.NewPolicy()
	lc = engine.NewLifecycle(engine.Disconnected, engine.Connected)
	if err := lc.Initialize(store, "client", restored); err != nil {
		t.Fatal(err)
	}
	if restored.Passphrase() != "persisted" {
		t.Fatalf("Restored passphrase is %q", restored.Passphrase())
	}
}
