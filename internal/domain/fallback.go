package domain

import (
	"bytes"
	"encoding/gob"
	"time"
)

// Fallback is a timestamp with a "plan B". Best resolves to the primary value
// when it is set, otherwise it walks the backup chain. The absent state is
// explicit (nil pointer), never a zero time.
type Fallback struct {
	value  *time.Time
	backup *Fallback
}

// NewFallback wraps an authoritative reading with no backup.
func NewFallback(value *time.Time) Fallback {
	return Fallback{value: copyTime(value)}
}

// NewFallbackWithBackup wraps a reading that defers to backup when absent.
func NewFallbackWithBackup(value *time.Time, backup Fallback) Fallback {
	b := backup
	return Fallback{value: copyTime(value), backup: &b}
}

// AbsentFallback is a Fallback with neither value nor backup.
func AbsentFallback() Fallback {
	return Fallback{}
}

// Value returns the primary reading, nil if absent.
func (f Fallback) Value() *time.Time {
	return copyTime(f.value)
}

// Best returns the primary value if present, else the backup chain's Best.
func (f Fallback) Best() *time.Time {
	if f.value != nil {
		return copyTime(f.value)
	}

	if f.backup != nil {
		return f.backup.Best()
	}

	return nil
}

// Defined reports whether Best resolves to anything.
func (f Fallback) Defined() bool {
	return f.Best() != nil
}

// Before compares two resolvable Fallbacks. Comparing an absent side is a
// programming error and panics, matching the contract that ordering is only
// defined when both sides resolve.
func (f Fallback) Before(other Fallback) bool {
	a, b := f.Best(), other.Best()
	if a == nil || b == nil {
		panic("domain: ordering an absent Fallback")
	}

	return a.Before(*b)
}

// After is the mirror of Before with the same absence contract.
func (f Fallback) After(other Fallback) bool {
	return other.Before(f)
}

// MinFallback aggregates the Best of the given Fallbacks, skipping absent
// ones. All absent yields an absent Fallback.
func MinFallback(args ...Fallback) Fallback {
	var min *time.Time

	for _, arg := range args {
		best := arg.Best()
		if best == nil {
			continue
		}

		if min == nil || best.Before(*min) {
			min = best
		}
	}

	return NewFallback(min)
}

// MaxFallback is the maximum counterpart of MinFallback.
func MaxFallback(args ...Fallback) Fallback {
	var max *time.Time

	for _, arg := range args {
		best := arg.Best()
		if best == nil {
			continue
		}

		if max == nil || best.After(*max) {
			max = best
		}
	}

	return NewFallback(max)
}

// fallbackEntry is the wire form of one chain node.
type fallbackEntry struct {
	Present bool
	Value   time.Time
}

// GobEncode flattens the backup chain so cached values survive the default
// codec; gob would otherwise drop the unexported fields silently.
func (f Fallback) GobEncode() ([]byte, error) {
	var entries []fallbackEntry

	for node := &f; node != nil; node = node.backup {
		entry := fallbackEntry{}
		if node.value != nil {
			entry.Present = true
			entry.Value = *node.value
		}

		entries = append(entries, entry)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (f *Fallback) GobDecode(data []byte) error {
	var entries []fallbackEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return err
	}

	var next *Fallback

	for i := len(entries) - 1; i >= 0; i-- {
		node := &Fallback{backup: next}
		if entries[i].Present {
			value := entries[i].Value
			node.value = &value
		}

		next = node
	}

	if next == nil {
		*f = Fallback{}
		return nil
	}

	*f = *next

	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}

// MinTime returns the earliest of the given optional timestamps, nil if all
// are nil.
func MinTime(args ...*time.Time) *time.Time {
	var min *time.Time

	for _, arg := range args {
		if arg == nil {
			continue
		}

		if min == nil || arg.Before(*min) {
			min = arg
		}
	}

	return copyTime(min)
}

// MaxTime returns the latest of the given optional timestamps, nil if all
// are nil.
func MaxTime(args ...*time.Time) *time.Time {
	var max *time.Time

	for _, arg := range args {
		if arg == nil {
			continue
		}

		if max == nil || arg.After(*max) {
			max = arg
		}
	}

	return copyTime(max)
}
