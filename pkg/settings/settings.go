// Copyright 2026 The Sql-Layer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package settings is a small configuration registry: named, typed
// options with defaults that are registered once at init time and read
// by value for the lifetime of the process. It is intentionally far
// smaller than a cluster-wide setting registry — this package has
// exactly one boolean knob — but keeps the same register/lookup shape so
// it reads the way the rest of the stack expects configuration to be
// wired.
package settings

import "sync"

// BoolSetting is a named boolean configuration value with a default.
type BoolSetting struct {
	key     string
	desc    string
	def     bool
	mu      sync.RWMutex
	value   bool
	valueOk bool
}

// RegisterBool defines and returns a new boolean setting. Registration must
// happen at package init time; callers hold on to the returned handle
// rather than re-resolving the setting by key.
func RegisterBool(key, desc string, defaultValue bool) *BoolSetting {
	return &BoolSetting{key: key, desc: desc, def: defaultValue}
}

// Get returns the configured value, or the default if none was set.
func (s *BoolSetting) Get() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.valueOk {
		return s.def
	}
	return s.value
}

// Override replaces the effective value, as happens when a process reads
// its config file or flags at startup.
func (s *BoolSetting) Override(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.valueOk = true
}

// Key reports the setting's registered name, e.g. for logging which knob a
// caller flipped.
func (s *BoolSetting) Key() string { return s.key }

// ClearIncompatibleData authorizes the schema manager to wipe and
// reinitialize its directory on a stored data/meta version mismatch at
// startup, instead of refusing to start.
var ClearIncompatibleData = RegisterBool(
	"schema.clear_incompatible_data",
	"wipe and reinitialize the schema manager directory on an incompatible stored version",
	false,
)

// Config is the bag of options threaded into Manager.Start. It exists
// separately from the package-level settings above so a test can build one
// without touching global registry state.
type Config struct {
	ClearIncompatibleData bool
}

// Resolve builds a Config from the current values of the package-level
// settings, the way a service's start-up sequence reads its
// ConfigurationService once and freezes the result for the run.
func Resolve() Config {
	return Config{ClearIncompatibleData: ClearIncompatibleData.Get()}
}
