// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package file exchanges payloads through files. A Client tails its input file, like "tail -f", and appends its
// own payloads to its output file. Two Clients with swapped files talk to each other; a Client whose input is its
// output reads its own payloads.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/stream"
)

// recheckInterval bounds the wait for a file event, as not every file system reports all writes.
const recheckInterval = time.Second

var errWatcherClosed = errors.New("file watcher was closed")

// NewClient for a pair of files. The Policy is cloned; a nil Policy results in the defaults.
func NewClient(config connstring.File, policy *engine.Policy) *stream.Client {
	if config.Output == "" {
		config.Output = config.File
	}

	return stream.NewPortClient("file", config.File, func(context.Context) (stream.Port, error) {
		return openTail(config.File, config.Output)
	}, policy)
}

// tail reads an input file which might still grow and appends to an output file.
type tail struct {
	input   *os.File
	output  *os.File
	watcher *fsnotify.Watcher
}

func openTail(input, output string) (t *tail, err error) {
	t = &tail{}
	defer func() {
		if err != nil {
			_ = t.Close()
			t = nil
		}
	}()

	if t.output, err = os.OpenFile(output, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644); err != nil {
		return
	}
	if t.input, err = os.OpenFile(input, os.O_RDONLY|os.O_CREATE, 0644); err != nil {
		return
	}

	if t.watcher, err = fsnotify.NewWatcher(); err != nil {
		return
	}
	if err = t.watcher.Add(input); err != nil {
		err = fmt.Errorf("watching %s: %w", input, err)
		return
	}

	log.WithFields(log.Fields{
		"input":  input,
		"output": output,
	}).Debug("Opened files")
	return
}

// Read returns io.EOF at the current end of the input file.
func (t *tail) Read(p []byte) (int, error) {
	return t.input.Read(p)
}

func (t *tail) Write(p []byte) (int, error) {
	return t.output.Write(p)
}

// Wait for the input file to be written to.
func (t *tail) Wait(ctx context.Context) error {
	timer := time.NewTimer(recheckInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			return nil

		case e, ok := <-t.watcher.Events:
			if !ok {
				return errWatcherClosed
			}

			switch {
			case e.Op&(fsnotify.Write|fsnotify.Create) != 0:
				return nil
			case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				return fmt.Errorf("input file %s was removed", e.Name)
			default:
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return errWatcherClosed
			}
			return err
		}
	}
}

func (t *tail) Close() (err error) {
	if t.watcher != nil {
		if closeErr := t.watcher.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}
	for _, f := range []*os.File{t.input, t.output} {
		if f == nil {
			continue
		}
		if closeErr := f.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}
	return
}
