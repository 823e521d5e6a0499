package main

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/errors"
)

// acquireLock claims the staging directory for one base name. Runs with
// the same output directory and name exclude each other; the returned
// func releases the claim. The lock is advisory and dies with the process,
// so a killed run never blocks the next one.
func acquireLock(l artifact.Layout) (func(), error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindConfiguration, err, "create staging directory")
	}
	path := filepath.Join(l.Dir, "."+l.Name+".lock")
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindConfiguration, err, "lock staging directory")
	}
	if !locked {
		return nil, errors.New(errors.PhaseConfig, errors.KindConfiguration).
			Path(path).
			Detail("staging directory is in use by another run").
			Build()
	}
	return func() { lock.Unlock() }, nil
}
