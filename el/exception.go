/*
Copyright (C) 2024  Carl-Philip Hänsch

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
package el

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Pointer encodings a Language-Specific Data Area can use for a field,
// matching the DW_EH_PE_* constants of the DWARF exception-handling ABI.
const (
	dwEhPeAbsptr  = 0x00
	dwEhPeUleb128 = 0x01
	dwEhPeUdata2  = 0x02
	dwEhPeUdata4  = 0x03
	dwEhPeUdata8  = 0x04
	dwEhPeSleb128 = 0x09
	dwEhPeSdata2  = 0x0a
	dwEhPeSdata4  = 0x0b
	dwEhPeSdata8  = 0x0c
	dwEhPePcrel   = 0x10
	dwEhPeIndirect = 0x80
	dwEhPeOmit    = 0xff
)

// byteCursor is a forward-only reader over an LSDA's raw bytes, the
// same access pattern a personality routine uses when walking the call
// site table during unwind.
type byteCursor struct {
	data []byte
	pos  int
}

func (c *byteCursor) u8() (byte, error) {
	if c.pos >= len(c.data) {
		return 0, fmt.Errorf("lsda: truncated at byte %d", c.pos)
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

// uleb128 decodes an unsigned little-endian base-128 varint: 7 payload
// bits per byte, continuation in the high bit, least significant group first.
func (c *byteCursor) uleb128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := c.u8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("lsda: uleb128 overflow")
		}
	}
}

// sleb128 decodes a signed little-endian base-128 varint, sign-extending
// from the final group's highest payload bit.
func (c *byteCursor) sleb128() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = c.u8()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

func (c *byteCursor) fixed(n int) (uint64, error) {
	if c.pos+n > len(c.data) {
		return 0, fmt.Errorf("lsda: truncated fixed-width field at byte %d", c.pos)
	}
	var v uint64
	switch n {
	case 2:
		v = uint64(binary.LittleEndian.Uint16(c.data[c.pos:]))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(c.data[c.pos:]))
	case 8:
		v = binary.LittleEndian.Uint64(c.data[c.pos:])
	default:
		return 0, fmt.Errorf("lsda: unsupported fixed-width size %d", n)
	}
	c.pos += n
	return v, nil
}

// encodedPointer decodes one pointer field per the given DW_EH_PE_*
// encoding byte. pcrel base is the position of the field itself, added
// back in for DW_EH_PE_pcrel-relative encodings. DW_EH_PE_indirect is
// reported via the returned bool so the caller (which owns the actual
// memory image) can perform the extra dereference; this decoder never
// touches raw memory itself, only the LSDA byte stream.
func (c *byteCursor) encodedPointer(encoding byte, pcrelBase uint64) (value uint64, indirect bool, err error) {
	if encoding == dwEhPeOmit {
		return 0, false, nil
	}
	indirect = encoding&dwEhPeIndirect != 0
	format := encoding &^ dwEhPeIndirect
	fieldPos := uint64(c.pos)
	switch format & 0x0f {
	case dwEhPeAbsptr:
		value, err = c.fixed(8)
	case dwEhPeUleb128:
		value, err = c.uleb128()
	case dwEhPeUdata2:
		value, err = c.fixed(2)
	case dwEhPeUdata4:
		value, err = c.fixed(4)
	case dwEhPeUdata8:
		value, err = c.fixed(8)
	case dwEhPeSleb128:
		var s int64
		s, err = c.sleb128()
		value = uint64(s)
	case dwEhPeSdata2:
		var v uint64
		v, err = c.fixed(2)
		value = uint64(int64(int16(v)))
	case dwEhPeSdata4:
		var v uint64
		v, err = c.fixed(4)
		value = uint64(int64(int32(v)))
	case dwEhPeSdata8:
		value, err = c.fixed(8)
	default:
		return 0, false, fmt.Errorf("lsda: unsupported pointer encoding 0x%02x", format)
	}
	if err != nil {
		return 0, false, err
	}
	if format&dwEhPePcrel != 0 {
		value += pcrelBase + fieldPos
	}
	return value, indirect, nil
}

// CallSiteRecord is one row of the LSDA's call-site table: the [Start,
// Start+Length) PC range it covers, the landing pad to resume at (0 if
// none — the call site has no cleanup/catch), and the first action
// describing which exception types that landing pad catches (-1 for a
// cleanup with no type filtering). ParseLSDA reads ActionOffset as a
// byte offset into the action table and then replaces it with the index
// of that action in LSDA.Actions, which is how Personality uses it.
type CallSiteRecord struct {
	Start, Length, LandingPad uint64
	ActionOffset              int64
}

// ActionRecord is one entry of the action table: TypeFilter indexes
// (1-based) into LSDA.TypeTable, and NextOffset chains to another
// action for a landing pad with multiple catch clauses (0 = last).
type ActionRecord struct {
	TypeFilter int64
	NextOffset int64
}

// LSDA is a decoded Language-Specific Data Area: everything the
// personality routine needs to decide, for a given PC and an in-flight
// exception's type name, which (if any) landing pad should run.
type LSDA struct {
	LPStartEncoding byte
	TTypeEncoding   byte
	CallSites       []CallSiteRecord
	Actions         []ActionRecord
	TypeTable       []string
}

// ParseLSDA decodes the fixed header + call-site table + action table
// layout the DWARF EH ABI specifies. pcrelBase anchors any PC-relative
// pointer fields to the LSDA's own load address.
func ParseLSDA(data []byte, pcrelBase uint64) (*LSDA, error) {
	c := &byteCursor{data: data}
	lsda := &LSDA{}

	lpStartEncoding, err := c.u8()
	if err != nil {
		return nil, err
	}
	lsda.LPStartEncoding = lpStartEncoding
	if lpStartEncoding != dwEhPeOmit {
		if _, _, err := c.encodedPointer(lpStartEncoding, pcrelBase); err != nil {
			return nil, fmt.Errorf("lsda: LPStart: %w", err)
		}
	}

	ttypeEncoding, err := c.u8()
	if err != nil {
		return nil, err
	}
	lsda.TTypeEncoding = ttypeEncoding
	var ttypeOffset uint64
	if ttypeEncoding != dwEhPeOmit {
		ttypeOffset, err = c.uleb128()
		if err != nil {
			return nil, fmt.Errorf("lsda: TTypeOffset: %w", err)
		}
	}
	ttypeBase := c.pos

	callSiteEncoding, err := c.u8()
	if err != nil {
		return nil, err
	}
	callSiteLength, err := c.uleb128()
	if err != nil {
		return nil, fmt.Errorf("lsda: call site table length: %w", err)
	}
	callSiteTableEnd := c.pos + int(callSiteLength)

	for c.pos < callSiteTableEnd {
		start, _, err := c.encodedPointer(callSiteEncoding, pcrelBase)
		if err != nil {
			return nil, fmt.Errorf("lsda: call site start: %w", err)
		}
		length, _, err := c.encodedPointer(callSiteEncoding, pcrelBase)
		if err != nil {
			return nil, fmt.Errorf("lsda: call site length: %w", err)
		}
		landingPad, _, err := c.encodedPointer(callSiteEncoding, pcrelBase)
		if err != nil {
			return nil, fmt.Errorf("lsda: landing pad: %w", err)
		}
		actionEntry, err := c.uleb128()
		if err != nil {
			return nil, fmt.Errorf("lsda: action entry: %w", err)
		}
		actionOffset := int64(-1)
		if actionEntry != 0 {
			actionOffset = int64(actionEntry - 1)
		}
		lsda.CallSites = append(lsda.CallSites, CallSiteRecord{
			Start: start, Length: length, LandingPad: landingPad, ActionOffset: actionOffset,
		})
	}

	// Action table runs from callSiteTableEnd to ttypeBase+ttypeOffset.
	actionTableEnd := c.pos
	if ttypeEncoding != dwEhPeOmit {
		actionTableEnd = ttypeBase + int(ttypeOffset)
	}
	actionsByOffset := make(map[int]int) // byte offset within action table -> index in lsda.Actions
	for c.pos < actionTableEnd && c.pos < len(c.data) {
		offsetInTable := c.pos - callSiteTableEnd
		filter, err := c.sleb128()
		if err != nil {
			return nil, fmt.Errorf("lsda: action type filter: %w", err)
		}
		next, err := c.sleb128()
		if err != nil {
			return nil, fmt.Errorf("lsda: action next offset: %w", err)
		}
		actionsByOffset[offsetInTable] = len(lsda.Actions)
		lsda.Actions = append(lsda.Actions, ActionRecord{TypeFilter: filter, NextOffset: next})
	}
	for i := range lsda.CallSites {
		if lsda.CallSites[i].ActionOffset >= 0 {
			if idx, ok := actionsByOffset[int(lsda.CallSites[i].ActionOffset)]; ok {
				lsda.CallSites[i].ActionOffset = int64(idx)
			}
		}
	}

	// Type table entries are referenced backwards from ttypeBase+ttypeOffset,
	// one pointer-sized encoded reference per (1-based) filter value. We
	// decode eagerly up to what the call sites actually reference.
	maxFilter := int64(0)
	for _, a := range lsda.Actions {
		if a.TypeFilter > maxFilter {
			maxFilter = a.TypeFilter
		}
	}
	if ttypeEncoding != dwEhPeOmit {
		entrySize := encodingSize(ttypeEncoding)
		base := ttypeBase + int(ttypeOffset)
		lsda.TypeTable = make([]string, maxFilter+1)
		for i := int64(1); i <= maxFilter; i++ {
			pos := base - int(i)*entrySize
			if pos < 0 || pos+entrySize > len(data) {
				continue
			}
			tc := &byteCursor{data: data, pos: pos}
			ref, _, err := tc.encodedPointer(ttypeEncoding, pcrelBase)
			if err != nil {
				continue
			}
			lsda.TypeTable[i] = fmt.Sprintf("type@0x%x", ref)
		}
	}

	return lsda, nil
}

func encodingSize(encoding byte) int {
	switch encoding &^ dwEhPeIndirect & 0x0f {
	case dwEhPeUdata2, dwEhPeSdata2:
		return 2
	case dwEhPeUdata4, dwEhPeSdata4:
		return 4
	default:
		return 8
	}
}

// FindCallSite returns the call-site record covering pc (a position
// relative to the function's start, as the DWARF EH ABI specifies),
// or false if pc falls in a region with no associated landing pad.
func (lsda *LSDA) FindCallSite(pc uint64) (CallSiteRecord, bool) {
	for _, cs := range lsda.CallSites {
		if pc >= cs.Start && pc < cs.Start+cs.Length {
			return cs, cs.LandingPad != 0
		}
	}
	return CallSiteRecord{}, false
}

// PersonalityPhase distinguishes the two passes of the standard
// two-phase unwind protocol: phase 1 only asks "is there a handler
// anywhere up the stack for this exception", phase 2 commits to
// actually transferring control to the landing pad found in phase 1.
type PersonalityPhase uint8

const (
	PhaseSearch PersonalityPhase = iota
	PhaseInstall
)

// PersonalityResult is what a personality routine invocation decides
// for one stack frame.
type PersonalityResult struct {
	Handled    bool
	LandingPad uint64
	ActionIdx  int
}

// Personality runs one frame's worth of the two-phase unwind: given the
// frame's LSDA, the PC the throw (or a prior frame's cleanup) left off
// at, and the exception's dynamic type name, it walks the call-site
// table to the covering record, then its action chain, matching each
// action's TypeFilter against typeName via exceptionMatches (the
// DWARF ABI's generic "language-specific type matching" hook, which for
// this dialect is a plain string comparison rather than a vtable RTTI
// check). A matching catch is reported the same way in both phases;
// phase only changes the cleanup-only case, whose landing pad is
// reported in PhaseInstall and ignored in PhaseSearch.
func Personality(phase PersonalityPhase, lsda *LSDA, pc uint64, typeName string) (PersonalityResult, error) {
	cs, ok := lsda.FindCallSite(pc)
	if !ok {
		return PersonalityResult{}, nil
	}
	if cs.ActionOffset < 0 {
		// Cleanup-only landing pad (no catch types): always taken on
		// phase 2, never reported as a match during the search phase.
		if phase == PhaseInstall {
			return PersonalityResult{Handled: true, LandingPad: cs.LandingPad, ActionIdx: -1}, nil
		}
		return PersonalityResult{}, nil
	}
	idx := int(cs.ActionOffset)
	for idx >= 0 && idx < len(lsda.Actions) {
		a := lsda.Actions[idx]
		if a.TypeFilter > 0 && int(a.TypeFilter) < len(lsda.TypeTable) {
			if exceptionMatches(typeName, lsda.TypeTable[a.TypeFilter]) {
				return PersonalityResult{Handled: true, LandingPad: cs.LandingPad, ActionIdx: idx}, nil
			}
		}
		if a.NextOffset == 0 {
			break
		}
		idx += int(a.NextOffset)
	}
	return PersonalityResult{}, nil
}

// exceptionMatches implements the dialect's catch-type matching rule:
// an exact string match between the thrown exception's type name and a
// catch clause's declared type, or the wildcard "*" which catches
// anything — the dynamic-type analogue of the original C++ ABI's
// std::type_info::operator== that a real personality routine uses, cut
// down to a strcmp since this runtime has no RTTI of its own.
func exceptionMatches(thrown, caught string) bool {
	return caught == "*" || caught == thrown
}

//
// Exception construction/throwing, used by declare.go's "exception" and
// "throw" primitives, by primitives that raise a fault of their own, and
// by TreeBackend.apply, which re-raises a primitive's accessor type
// mismatch as a TypeError.
//

// Throw allocates an ExceptionObj and panics with it wrapped in a
// thrownSignal. It only makes sense to call from inside a Backend's
// Apply/Eval, where a deferred recover (see TreeBackend.evalTry) is on
// the stack to catch it.
func Throw(gc *GarbageCollector, typeName string, metadata Value, message string) {
	panic(&thrownSignal{exc: gc.MakeException(typeName, metadata, message)})
}

// ThrowValue panics with an already-constructed ExceptionObj, the form
// declare.go's "throw" primitive uses for (throw (exception type meta
// message)) — the dialect-surface constructor and raise are two
// separate calls, unlike Throw above which does both at once for
// primitives that raise a fault of their own.
func ThrowValue(exc Value) {
	panic(&thrownSignal{exc: exc})
}

// ThrowFloatDomainError raises a DomainError for an operand with no
// real-valued result. No primitive in declare.go calls it.
func ThrowFloatDomainError(gc *GarbageCollector, op string, operand float64) {
	if math.IsNaN(operand) {
		Throw(gc, "DomainError", NewNil(), op+": operand is NaN")
	}
	Throw(gc, "DomainError", NewNil(), fmt.Sprintf("%s: operand %g out of domain", op, operand))
}
