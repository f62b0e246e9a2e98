// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"fmt"
	"strings"
)

// ShowIFR renders every package-list's form trees as an indented,
// human-readable tree, one opcode per line with its resolved string
// references, for the "hii show-ifr" CLI operation — ported from
// original_source/forms.rs's display(), generalized from a single form
// package to every package-list in the DB.
func ShowIFR(c *Cache) (string, error) {
	var b strings.Builder
	for i, list := range c.DB.Lists {
		fmt.Fprintf(&b, "Packagelist %s\n", list.GUID)
		roots, err := c.Forms(i)
		if err != nil && roots == nil {
			return "", err
		}
		for _, root := range roots {
			for _, child := range root.Children {
				writeNode(&b, c, i, child, 1)
			}
		}
	}
	return b.String(), nil
}

// PackageListStrings is one package-list's decoded string packages, for
// the "hii list-strings" CLI operation.
type PackageListStrings struct {
	PackageList string
	Packages    []*StringPackage
}

// ListStrings returns every decoded string package across the DB,
// ported from original_source/exports.rs's HiiBackend::list_strings.
func ListStrings(c *Cache) ([]PackageListStrings, error) {
	var out []PackageListStrings
	for i, list := range c.DB.Lists {
		packages, err := c.Strings(i)
		if err != nil && packages == nil {
			return nil, err
		}
		if len(packages) == 0 {
			continue
		}
		out = append(out, PackageListStrings{PackageList: list.GUID.String(), Packages: packages})
	}
	return out, nil
}

func writeNode(b *strings.Builder, c *Cache, listIdx int, node *Node, level int) {
	indent := strings.Repeat("    ", level)

	switch d := node.Data.(type) {
	case *FormSetData:
		fmt.Fprintf(b, "%sOpCode: %s - %s - GUID %s\n", indent, node.Op, c.lookupString(listIdx, d.Title), d.GUID)
	case *FormData:
		fmt.Fprintf(b, "%sOpCode: %s - %s\n", indent, node.Op, c.lookupString(listIdx, d.Title))
	case *SubtitleData:
		fmt.Fprintf(b, "%sOpCode: %s - S: %s\n", indent, node.Op, c.lookupString(listIdx, d.Prompt))
	case *TextData:
		fmt.Fprintf(b, "%sOpCode: %s - S: %s\n", indent, node.Op, c.lookupString(listIdx, d.Text))
	case *VarStoreData:
		fmt.Fprintf(b, "%sOpCode: %s - Name: %s\n", indent, node.Op, d.Name)
	case *VarStoreEfiData:
		fmt.Fprintf(b, "%sOpCode: %s - GUID: %s\n", indent, node.Op, d.GUID)
	case *OneOfData:
		fmt.Fprintf(b, "%sOpCode: %s - S: %s\n", indent, node.Op, c.lookupString(listIdx, d.Prompt))
		for _, opt := range d.Options {
			fmt.Fprintf(b, "%s    -Option: %s - Value: %d\n", indent, c.lookupString(listIdx, opt.Text), opt.Value)
		}
	case *CheckBoxData:
		fmt.Fprintf(b, "%sOpCode: %s - S: %s\n", indent, node.Op, c.lookupString(listIdx, d.Prompt))
	case *NumericData:
		fmt.Fprintf(b, "%sOpCode: %s - S: %s - [%d,%d]\n", indent, node.Op, c.lookupString(listIdx, d.Prompt), d.Min, d.Max)
	case *DefaultStoreData:
		fmt.Fprintf(b, "%sOpCode: %s - S: %s\n", indent, node.Op, c.lookupString(listIdx, d.NameID))
	case *DefaultData:
		fmt.Fprintf(b, "%sOpCode: %s - Value: %d\n", indent, node.Op, d.Value)
	default:
		fmt.Fprintf(b, "%sOpCode: %s\n", indent, node.Op)
	}

	for _, child := range node.Children {
		writeNode(b, c, listIdx, child, level+1)
	}
}
