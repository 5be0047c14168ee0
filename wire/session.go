/*
Copyright (C) 2025-2026  ShinDB Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package wire

import (
	"encoding/binary"
	"hash/maphash"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sessionSeed is drawn once at process start from runtime's own
// (non-cryptographic) entropy source; sessionCounter then guarantees
// every call within the process produces a distinct input even if two
// connections are accepted within the same clock tick.
var (
	sessionSeed    = maphash.MakeSeed()
	sessionCounter uint64
)

// newSessionID returns a UUIDv4-shaped value without drawing on
// crypto/rand. A connection accept loop can run hot enough that blocking
// on the OS entropy pool for a tag that's only ever used for log
// correlation is wasted latency, the same concern storage/fast_uuid.go
// raises for the teacher's own connection ids — this mixes the counter
// and wall clock through hash/maphash instead of the teacher's manual
// XOR/shift construction.
func newSessionID() uuid.UUID {
	ctr := atomic.AddUint64(&sessionCounter, 1)
	now := uint64(time.Now().UnixNano())

	var in [16]byte
	binary.LittleEndian.PutUint64(in[0:8], ctr)
	binary.LittleEndian.PutUint64(in[8:16], now)

	var h maphash.Hash
	h.SetSeed(sessionSeed)
	h.Write(in[:])
	lo := h.Sum64()
	h.WriteByte(0x01) // perturb state before drawing the second half
	hi := h.Sum64()

	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], lo)
	binary.LittleEndian.PutUint64(b[8:16], hi)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return uuid.UUID(b)
}
