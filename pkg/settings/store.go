// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package settings persists categories of string values, e.g., an engine's Policy, between runs.
//
// Both stores implement the engine.SettingsStore, which is used by an engine's Lifecycle on initialization and on
// closing.
package settings

import (
	"os"
	"path"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold"

	"github.com/dtn7/sockline/pkg/engine"
)

const dirBadger string = "db"

// categoryItem is the persisted form of a category.
type categoryItem struct {
	Category string
	Values   map[string]string
	Updated  time.Time `badgerholdIndex:"Updated"`
}

// BadgerStore persists categories in a badgerhold database.
type BadgerStore struct {
	bh *badgerhold.Store
}

// NewBadgerStore creates a new BadgerStore or opens an existing one from the given directory.
func NewBadgerStore(dir string) (s *BadgerStore, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &BadgerStore{bh: bh}
	}
	return
}

// Close the BadgerStore. It must not be used afterwards.
func (s *BadgerStore) Close() error {
	return s.bh.Close()
}

// Load a category's values. An unknown category results in an empty map.
func (s *BadgerStore) Load(category string) (map[string]string, error) {
	var item categoryItem
	if err := s.bh.Get(category, &item); err == badgerhold.ErrNotFound {
		log.WithField("category", category).Debug("Category is unknown")
		return map[string]string{}, nil
	} else if err != nil {
		return nil, err
	}

	if item.Values == nil {
		item.Values = map[string]string{}
	}
	return item.Values, nil
}

// Save a category's values, replacing all former values.
func (s *BadgerStore) Save(category string, values map[string]string) error {
	log.WithFields(log.Fields{
		"category": category,
		"values":   len(values),
	}).Debug("Saving category")

	return s.bh.Upsert(category, categoryItem{
		Category: category,
		Values:   copyValues(values),
		Updated:  time.Now(),
	})
}

// Delete a category. Deleting an unknown category is no error.
func (s *BadgerStore) Delete(category string) error {
	if err := s.bh.Delete(category, categoryItem{}); err != nil && err != badgerhold.ErrNotFound {
		return err
	}
	return nil
}

// DeleteOlder removes all categories which were not saved since the given time.
func (s *BadgerStore) DeleteOlder(t time.Time) {
	var items []categoryItem
	if err := s.bh.Find(&items, badgerhold.Where("Updated").Lt(t)); err != nil {
		log.WithError(err).Warn("Failed to get outdated categories")
		return
	}

	for _, item := range items {
		logger := log.WithField("category", item.Category)
		if err := s.Delete(item.Category); err != nil {
			logger.WithError(err).Warn("Failed to delete outdated category")
		} else {
			logger.Info("Deleted outdated category")
		}
	}
}

// Categories lists all known categories, sorted by name.
func (s *BadgerStore) Categories() ([]string, error) {
	var items []categoryItem
	if err := s.bh.Find(&items, nil); err != nil {
		return nil, err
	}

	categories := make([]string, 0, len(items))
	for _, item := range items {
		categories = append(categories, item.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

// MemoryStore keeps categories for the lifetime of the process.
type MemoryStore struct {
	mutex      sync.RWMutex
	categories map[string]map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{categories: make(map[string]map[string]string)}
}

// Load a category's values. An unknown category results in an empty map.
func (s *MemoryStore) Load(category string) (map[string]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return copyValues(s.categories[category]), nil
}

// Save a category's values, replacing all former values.
func (s *MemoryStore) Save(category string, values map[string]string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.categories[category] = copyValues(values)
	return nil
}

func copyValues(values map[string]string) map[string]string {
	c := make(map[string]string, len(values))
	for k, v := range values {
		c[k] = v
	}
	return c
}

var (
	_ engine.SettingsStore = (*BadgerStore)(nil)
	_ engine.SettingsStore = (*MemoryStore)(nil)
)
