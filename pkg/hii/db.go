// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// listCache holds the lazily decoded strings/forms for one PackageList,
// built on first lookup and kept for the rest of the invocation (per
// spec's stated lifecycle: "String maps are built lazily per
// package-list on first lookup").
type listCache struct {
	once    sync.Once
	strings []*StringPackage
	forms   []*Node
	err     error
}

// Cache wraps a parsed DB with the lazy per-package-list string/form
// decoding the question engine relies on. A DB is immutable for the
// lifetime of one invocation; Cache just memoizes derived data over it.
type Cache struct {
	DB     *DB
	caches []*listCache
}

// NewCache wraps db for lazy string/form decoding.
func NewCache(db *DB) *Cache {
	c := &Cache{DB: db, caches: make([]*listCache, len(db.Lists))}
	for i := range c.caches {
		c.caches[i] = &listCache{}
	}
	return c
}

func (c *Cache) decode(i int) *listCache {
	lc := c.caches[i]
	lc.once.Do(func() {
		list := c.DB.Lists[i]
		var warnings *multierror.Error
		for _, pkg := range list.Packages {
			switch pkg.Kind {
			case PackageTypeStrings:
				sp, err := decodeStringPackage(pkg.Data)
				if err != nil {
					warnings = multierror.Append(warnings, fmt.Errorf("package-list %s: %w", list.GUID, err))
					continue
				}
				lc.strings = append(lc.strings, sp)
			case PackageTypeForms:
				root, err := ParseForms(pkg.Data)
				if err != nil {
					warnings = multierror.Append(warnings, fmt.Errorf("package-list %s: %w", list.GUID, err))
					continue
				}
				lc.forms = append(lc.forms, root)
			}
		}
		lc.err = warnings.ErrorOrNil()
	})
	return lc
}

// Strings returns the decoded string packages for package-list i.
func (c *Cache) Strings(i int) ([]*StringPackage, error) {
	lc := c.decode(i)
	return lc.strings, lc.err
}

// Forms returns the decoded form-package roots for package-list i.
func (c *Cache) Forms(i int) ([]*Node, error) {
	lc := c.decode(i)
	return lc.forms, lc.err
}

// lookupString resolves a string-id within a package-list, preferring
// en-US and falling back to the first available language (spec's
// deliberately simplified language-selection policy).
func (c *Cache) lookupString(listIdx int, id uint16) string {
	packages, _ := c.Strings(listIdx)
	var fallback string
	for _, sp := range packages {
		s, ok := sp.Strings[id]
		if !ok {
			continue
		}
		if sp.Language == "en-US" {
			return s
		}
		if fallback == "" {
			fallback = s
		}
	}
	return fallback
}
