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

package schemamgr

import (
	"sync"

	"github.com/bowlofstew/sql-layer/pkg/ais"
)

// Session is the opaque, per-connection bag the schema manager attaches
// its per-transaction state to, cut down to the one typed slot this
// subsystem needs. A Session is reused across transactions; SessionAIS
// attaches its AIS reference for the duration of one transaction and
// detachAIS clears it when that transaction ends, via an
// end-of-transaction callback registered with the kv.Txn.
type Session struct {
	mu       sync.Mutex
	ais      *ais.AIS
	onlineID int64
}

// NewSession returns a fresh, unattached Session.
func NewSession() *Session { return &Session{} }

// AIS returns the AIS attached to this session for the current
// transaction, or nil if none is attached yet.
func (s *Session) AIS() *ais.AIS {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ais
}

func (s *Session) attachAIS(a *ais.AIS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ais = a
}

// detachAIS clears the session's AIS reference. Registered as an
// end-of-transaction callback by SessionAIS; never called directly.
func (s *Session) detachAIS() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ais = nil
}

// OnlineID returns the online session this Session owns, and whether it
// owns one at all. A Session owns at most one online change at a time.
func (s *Session) OnlineID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlineID, s.onlineID != 0
}

func (s *Session) setOnlineID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onlineID = id
}

func (s *Session) clearOnlineID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onlineID = 0
}
