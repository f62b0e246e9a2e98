// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// uefisettings reads and writes BIOS/UEFI settings either via the HiiDB
// exposed over efivarfs+/dev/mem, or via an HPE iLO BMC's Redfish API
// carried over BlobStore2, picking whichever backend(s) are present.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	flag "github.com/spf13/pflag"

	"github.com/linuxboot/uefisettings/pkg/hii"
	"github.com/linuxboot/uefisettings/pkg/ilorest"
	"github.com/linuxboot/uefisettings/pkg/settings"
)

var efivarsMount = flag.String("efivars-mount", hii.DefaultEfivarsMount, "efivarfs mount point")
var memDevice = flag.String("mem-device", hii.DefaultMemDevice, "physical memory device")
var backendFlag = flag.String("backend", "", `restrict get/set to one backend ("hii" or "ilo"); unset tries both, preferring hii`)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  uefisettings identify
  uefisettings get <question> [--backend hii|ilo]
  uefisettings set <question> <value> [--backend hii|ilo]
  uefisettings hii extract-db <output-file>
  uefisettings hii list-strings <db-file>
  uefisettings hii show-ifr <db-file>
  uefisettings ilo show-attributes`)
}

func locatorOptions() hii.LocatorOptions {
	return hii.LocatorOptions{EfivarsMount: *efivarsMount, MemDevice: *memDevice}
}

// backendHint parses --backend into the pointer settings.Options.Backend
// expects, nil meaning no hint was given.
func backendHint() (*settings.Backend, error) {
	if *backendFlag == "" {
		return nil, nil
	}
	b, err := settings.ParseBackend(*backendFlag)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "identify":
		err = runIdentify()
	case "get":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		err = runGet(args[1])
	case "set":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		err = runSet(args[1], args[2])
	case "hii":
		err = runHii(args[1:])
	case "ilo":
		err = runIlo(args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runIdentify() error {
	id := settings.Identify(settings.Options{Hii: locatorOptions()})

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Machine Identity")
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"HII backend available", id.HiiAvailable})
	t.AppendRow(table.Row{"iLO backend available", id.IloAvailable})
	t.AppendRow(table.Row{"BIOS vendor", id.Machine.BIOSVendor})
	t.AppendRow(table.Row{"BIOS version", id.Machine.BIOSVersion})
	t.AppendRow(table.Row{"BIOS date", id.Machine.BIOSDate})
	t.AppendRow(table.Row{"Product name", id.Machine.ProductName})
	t.AppendRow(table.Row{"Product family", id.Machine.ProductFamily})
	t.Render()
	return nil
}

func runGet(question string) error {
	backend, err := backendHint()
	if err != nil {
		return err
	}
	results, err := settings.Get(settings.Options{Hii: locatorOptions(), Backend: backend}, question)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Backend", "Selector", "Question", "Answer", "Translated"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Backend, r.Selector, r.Question, r.Answer, r.IsTranslated})
	}
	t.Render()
	return nil
}

func runSet(question, value string) error {
	backend, err := backendHint()
	if err != nil {
		return err
	}
	results, err := settings.Set(settings.Options{Hii: locatorOptions(), Backend: backend}, question, value)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Backend", "Selector", "Question", "Answer"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Backend, r.Selector, r.Question, r.Answer})
	}
	t.Render()
	return nil
}

func runHii(args []string) error {
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "extract-db":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		buf, err := hii.ExtractDB(locatorOptions())
		if err != nil {
			return err
		}
		return os.WriteFile(args[1], buf, 0o644)

	case "list-strings":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		db, err := loadDBFile(args[1])
		if err != nil {
			return err
		}
		cache := hii.NewCache(db)
		lists, err := hii.ListStrings(cache)
		if err != nil {
			return err
		}
		for _, l := range lists {
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetTitle("Packagelist %s", l.PackageList)
			t.AppendHeader(table.Row{"Language", "String ID", "Value"})
			for _, sp := range l.Packages {
				for id, s := range sp.Strings {
					t.AppendRow(table.Row{sp.Language, id, s})
				}
			}
			t.Render()
		}
		return nil

	case "show-ifr":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		db, err := loadDBFile(args[1])
		if err != nil {
			return err
		}
		cache := hii.NewCache(db)
		out, err := hii.ShowIFR(cache)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil

	default:
		usage()
		os.Exit(2)
		return nil
	}
}

func loadDBFile(path string) (*hii.DB, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return hii.ParseDB(buf)
}

func runIlo(args []string) error {
	if len(args) == 0 || args[0] != "show-attributes" {
		usage()
		os.Exit(2)
	}

	client := ilorest.NewClient()
	gen, err := ilorest.IdentifyGeneration(client)
	if err != nil {
		return err
	}
	dev := ilorest.NewDevice(gen)

	current, err := dev.GetCurrentSettings(client)
	if err != nil {
		return err
	}
	pending, err := dev.GetPendingSettings(client)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("%s attributes (%s)", dev.SettingsSelector(), gen)
	t.AppendHeader(table.Row{"Attribute", "Current", "Pending"})
	for k, v := range current {
		t.AppendRow(table.Row{k, v, pending[k]})
	}
	t.Render()
	return nil
}
