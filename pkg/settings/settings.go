// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package settings dispatches get/set/identify operations across the
// two firmware settings backends this module knows about (HiiDB over
// efivarfs+/dev/mem, and iLO BIOS attributes over BlobStore2+Redfish),
// translating canonical question/answer names through pkg/spellings on
// the way in and out (spec §5).
package settings

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/uefisettings/internal/ulog"
	"github.com/linuxboot/uefisettings/pkg/blobstore"
	"github.com/linuxboot/uefisettings/pkg/hii"
	"github.com/linuxboot/uefisettings/pkg/identity"
	"github.com/linuxboot/uefisettings/pkg/ilorest"
	"github.com/linuxboot/uefisettings/pkg/settingserr"
	"github.com/linuxboot/uefisettings/pkg/spellings"
)

var settingsLog = ulog.Tagged("settings")

// Backend identifies which firmware settings transport a Result came
// from.
type Backend int

const (
	BackendHii Backend = iota
	BackendIlo
)

func (b Backend) String() string {
	if b == BackendHii {
		return "hii"
	}
	return "ilo"
}

// ParseBackend parses the --backend flag value accepted by the CLI.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "hii":
		return BackendHii, nil
	case "ilo":
		return BackendIlo, nil
	default:
		return 0, fmt.Errorf("unknown backend %q, want \"hii\" or \"ilo\"", s)
	}
}

// Options configures where the dispatcher looks for each backend's
// inputs. The zero value uses the conventional Linux paths for both.
type Options struct {
	Hii hii.LocatorOptions
	// Spellings overrides/extends the default name-translation table;
	// nil uses spellings.Default unchanged.
	Spellings spellings.Table
	// Backend restricts Get/Set to a single named backend. Nil means no
	// hint: both backends are tried and their results aggregated, Hii
	// first, per spec's stated preference for Hii when both are present.
	Backend *Backend
}

// wantsBackend reports whether b should be tried given opts' hint: every
// backend is wanted when no hint was given, otherwise only the named one.
func (o Options) wantsBackend(b Backend) bool {
	return o.Backend == nil || *o.Backend == b
}

func (o Options) table() spellings.Table {
	if o.Spellings == nil {
		return spellings.Default
	}
	return spellings.Merge(spellings.Default, o.Spellings)
}

// Identity reports which backends are usable on this host plus its DMI
// identity strings, mirroring original_source/exports.rs's
// identify_machine.
type Identity struct {
	HiiAvailable bool
	IloAvailable bool
	Machine      identity.Machine
}

// Identify probes both backends and reads /sys/class/dmi/id.
func Identify(opts Options) Identity {
	id := Identity{
		HiiAvailable: hii.Available(opts.Hii),
		Machine:      identity.Read(identity.DefaultDMIRoot),
	}
	if chif, err := blobstore.Open(); err == nil {
		defer chif.Close()
		id.IloAvailable = chif.Ping() == nil
	}
	return id
}

// Result is one backend's answer for a single question, with the
// answer text already translated back to the caller's canonical
// spelling when the question has a translation table entry.
type Result struct {
	Backend      Backend
	Selector     string
	Question     string
	Answer       string
	Options      []string
	IsTranslated bool
}

// Get resolves canonical on every backend that's available and returns
// every match found, aggregating across backends rather than stopping
// at the first hit (spec §4.8): a caller wanting definitive evidence of
// partial success needs to see both backends' views. Hii is preferred
// by being tried first; opts.Backend overrides this and restricts
// resolution to a single named backend.
func Get(opts Options, canonical string) ([]Result, error) {
	table := opts.table()
	var results []Result
	var errs *multierror.Error

	if opts.wantsBackend(BackendHii) && hii.Available(opts.Hii) {
		r, err := getHii(opts, table, canonical)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("hii: %w", err))
		} else {
			results = append(results, r...)
		}
	}

	if opts.wantsBackend(BackendIlo) {
		if r, err := getIlo(table, canonical); err != nil {
			if !settingserr.Is(err, settingserr.BackendUnavailable) {
				errs = multierror.Append(errs, fmt.Errorf("ilo: %w", err))
			}
		} else {
			results = append(results, r)
		}
	}

	if len(results) == 0 {
		if errs != nil {
			return nil, settingserr.New(settingserr.BackendUnavailable, "settings.Get", errs)
		}
		return nil, settingserr.New(settingserr.NotFound, "settings.Get",
			fmt.Errorf("%q matched nothing on any available backend", canonical))
	}
	return results, nil
}

func getHii(opts Options, table spellings.Table, canonical string) ([]Result, error) {
	variations := table.HiiVariations(canonical)
	isTranslated := table.IsTranslated(canonical, spellings.BackendHii)

	answers, err := hii.Get(opts.Hii, variations)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(answers))
	for _, a := range answers {
		text := a.Text
		if isTranslated {
			text = table.TranslateResponse(canonical, text, spellings.BackendHii)
		}
		optTexts := make([]string, 0, len(a.Options))
		for _, o := range a.Options {
			optTexts = append(optTexts, o.Text)
		}
		selector := ""
		if a.FormSetGUID != nil {
			selector = a.FormSetGUID.String()
		}
		results = append(results, Result{
			Backend:      BackendHii,
			Selector:     selector,
			Question:     canonical,
			Answer:       text,
			Options:      optTexts,
			IsTranslated: isTranslated,
		})
	}
	return results, nil
}

func getIlo(table spellings.Table, canonical string) (Result, error) {
	isTranslated := table.IsTranslated(canonical, spellings.BackendIlo)
	question := table.IloQuestion(canonical)

	client := ilorest.NewClient()
	gen, err := ilorest.IdentifyGeneration(client)
	if err != nil {
		return Result{}, err
	}
	dev := ilorest.NewDevice(gen)

	current, err := dev.GetCurrentSettings(client)
	if err != nil {
		return Result{}, err
	}
	raw, ok := current[question]
	if !ok {
		return Result{}, settingserr.New(settingserr.NotFound, "settings.getIlo",
			fmt.Errorf("%q not present in ilo current settings", question))
	}

	answer := raw
	if isTranslated {
		answer = table.TranslateResponse(canonical, raw, spellings.BackendIlo)
	}
	return Result{
		Backend:      BackendIlo,
		Selector:     dev.SettingsSelector(),
		Question:     canonical,
		Answer:       answer,
		IsTranslated: isTranslated,
	}, nil
}

// Set writes newValue to canonical on every available backend. Per
// spec §5 a HiiDB write that matches more than one distinct storage
// location is rejected wholesale (settingserr.Ambiguous propagates from
// hii.Set) rather than guessing; the iLO backend has no notion of
// ambiguity since Redfish always names one flat attribute key. Hii is
// preferred by being tried first; opts.Backend overrides this and
// restricts the write to a single named backend.
func Set(opts Options, canonical, newValue string) ([]Result, error) {
	table := opts.table()
	var results []Result
	var errs *multierror.Error

	if opts.wantsBackend(BackendHii) && hii.Available(opts.Hii) {
		r, err := setHii(opts, table, canonical, newValue)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("hii: %w", err))
		} else {
			results = append(results, r)
		}
	}

	if opts.wantsBackend(BackendIlo) {
		if r, err := setIlo(table, canonical, newValue); err != nil {
			if !settingserr.Is(err, settingserr.BackendUnavailable) {
				errs = multierror.Append(errs, fmt.Errorf("ilo: %w", err))
			}
		} else {
			results = append(results, r)
		}
	}

	if len(results) == 0 {
		if errs != nil {
			return nil, errs.ErrorOrNil()
		}
		return nil, settingserr.New(settingserr.NotFound, "settings.Set",
			fmt.Errorf("%q matched nothing on any available backend", canonical))
	}
	settingsLog.Warnf("settings: set %q on %d backend(s)", canonical, len(results))
	return results, nil
}

func setHii(opts Options, table spellings.Table, canonical, newValue string) (Result, error) {
	variations := table.HiiVariations(canonical)
	candidates := table.HiiAnswerCandidates(canonical, newValue)
	isTranslated := table.IsTranslated(canonical, spellings.BackendHii)

	if err := hii.Set(opts.Hii, variations, candidates); err != nil {
		return Result{}, err
	}
	return Result{
		Backend:      BackendHii,
		Question:     canonical,
		Answer:       newValue,
		IsTranslated: isTranslated,
	}, nil
}

func setIlo(table spellings.Table, canonical, newValue string) (Result, error) {
	isTranslated := table.IsTranslated(canonical, spellings.BackendIlo)
	question := table.IloQuestion(canonical)
	answer := newValue
	if isTranslated {
		answer = table.IloAnswer(canonical, newValue)
	}

	client := ilorest.NewClient()
	gen, err := ilorest.IdentifyGeneration(client)
	if err != nil {
		return Result{}, err
	}
	dev := ilorest.NewDevice(gen)

	if err := dev.UpdateSetting(client, question, answer); err != nil {
		return Result{}, err
	}
	return Result{
		Backend:      BackendIlo,
		Selector:     dev.SettingsSelector(),
		Question:     canonical,
		Answer:       newValue,
		IsTranslated: isTranslated,
	}, nil
}
