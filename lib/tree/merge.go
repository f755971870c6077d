// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"errors"
	"fmt"
)

// ErrMergeType is matched by every MergeTypeError.
var ErrMergeType = errors.New("config merge type mismatch")

// MergeTypeError reports a key whose value has a different structural
// type in the two trees being merged.
type MergeTypeError struct {
	Path     string
	Base     Kind
	Incoming Kind
}

func (e *MergeTypeError) Error() string {
	return fmt.Sprintf("cannot merge %s into %s at %q", e.Incoming, e.Base, e.Path)
}

func (e *MergeTypeError) Is(target error) bool { return target == ErrMergeType }

// Merge returns a new Map holding incoming deep-merged on top of base.
// Neither argument is modified.
//
// For each key of incoming: a key missing from base is inserted; two
// sequences concatenate, base first, without de-duplication; two
// mappings merge recursively; two scalars resolve to the incoming
// value. Any other combination fails with a *MergeTypeError. A null
// value on either side counts as absent.
func Merge(base, incoming *Map) (*Map, error) {
	result := base.Clone()
	if result == nil {
		result = New()
	}
	if err := mergeInto(result, incoming, nil); err != nil {
		return nil, err
	}
	return result, nil
}

func mergeInto(base, incoming *Map, path []string) error {
	var err error
	incoming.Range(func(key string, value any) bool {
		keyPath := append(path[:len(path):len(path)], key)
		existing, present := base.Get(key)
		if !present || existing == nil {
			base.Set(key, cloneValue(value))
			return true
		}
		if value == nil {
			return true
		}

		switch baseValue := existing.(type) {
		case []any:
			if incomingItems, ok := value.([]any); ok {
				merged := make([]any, 0, len(baseValue)+len(incomingItems))
				merged = append(merged, baseValue...)
				merged = append(merged, cloneValue(incomingItems).([]any)...)
				base.Set(key, merged)
				return true
			}
		case *Map:
			if incomingMap, ok := value.(*Map); ok {
				err = mergeInto(baseValue, incomingMap, keyPath)
				return err == nil
			}
		default:
			if KindOf(value) == KindScalar {
				base.Set(key, value)
				return true
			}
		}

		err = &MergeTypeError{
			Path:     JoinPath(keyPath...),
			Base:     KindOf(existing),
			Incoming: KindOf(value),
		}
		return false
	})
	return err
}
