// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ilorest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linuxboot/uefisettings/pkg/settingserr"
)

// Requester is the subset of *Client a Device needs, split out so tests
// can substitute a fake transport without touching BlobStore2.
type Requester interface {
	Get(endpoint string) ([]byte, error)
	Patch(endpoint, body string) ([]byte, error)
}

// Generation identifies which Redfish dialect an iLO BMC speaks. Even
// when the guess between Ilo5 and Ilo5Gen10Plus is wrong, BIOS get/set
// still works identically between them (spec §4.7).
type Generation int

const (
	Ilo4 Generation = iota
	Ilo5
	Ilo5Gen10Plus
)

func (g Generation) String() string {
	switch g {
	case Ilo4:
		return "ilo4"
	case Ilo5:
		return "ilo5"
	case Ilo5Gen10Plus:
		return "ilo5-gen10plus"
	default:
		return "unknown"
	}
}

// successMessage is what iLO's @Message.ExtendedInfo must contain for a
// BIOS settings PATCH to count as accepted, ported from
// original_source/requests.rs's SUCCESS_MSG.
const successMessage = "SystemResetRequired"

// ilo4IgnoredKeys are non-attribute fields HPE mixes into ilo4's BIOS
// settings payload, ported from original_source/requests.rs's
// ILO4_IGNORED_KEYS.
var ilo4IgnoredKeys = []string{
	"links",
	"Type",
	"SettingsResult",
	"Modified",
	"Description",
	"AttributeRegistry",
	"SettingsObject",
}

// redfishDetails is the minimal shape needed out of GET /redfish/v1/ to
// tell generations apart, ported from original_source/requests.rs's
// RedfishDetails.
type redfishDetails struct {
	Product        json.RawMessage `json:"Product"`
	RedfishVersion string          `json:"RedfishVersion"`
}

// IdentifyGeneration issues GET /redfish/v1/ and classifies the BMC's
// generation, ported from original_source/requests.rs's
// identify_hpe_machine_type. This is a best-effort guess: Gen10 vs
// Gen10+ misclassification doesn't affect get/set correctness.
func IdentifyGeneration(client Requester) (Generation, error) {
	body, err := client.Get("/redfish/v1/")
	if err != nil {
		return 0, err
	}
	var details redfishDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return 0, settingserr.New(settingserr.ParseError, "ilorest.IdentifyGeneration", err)
	}

	if strings.Contains(details.RedfishVersion, "1.0.0") {
		return Ilo4, nil
	}
	var product string
	if err := json.Unmarshal(details.Product, &product); err == nil && strings.Contains(product, "Gen10 Plus") {
		return Ilo5Gen10Plus, nil
	}
	return Ilo5, nil
}

// RedfishMessage carries either ilo5's or ilo4's spelling of a message
// identifier, matching original_source/requests.rs's RedfishMessage
// (both fields are populated by the same JSON decode depending on which
// generation produced the document; the one not present decodes to "").
type RedfishMessage struct {
	MessageIDIlo5 string `json:"MessageId"`
	MessageIDIlo4 string `json:"MessageID"`
}

// redfishPatchResult is the shape of a BIOS settings PATCH response,
// ported from original_source/requests.rs's RedfishPatchResult /
// RedfishError.
type redfishPatchResult struct {
	Error struct {
		Code                string           `json:"code"`
		Message             string           `json:"message"`
		MessageExtendedInfo []RedfishMessage `json:"@Message.ExtendedInfo"`
	} `json:"error"`
}

func (r redfishPatchResult) succeeded() bool {
	for _, msg := range r.Error.MessageExtendedInfo {
		if strings.Contains(msg.MessageIDIlo5, successMessage) || strings.Contains(msg.MessageIDIlo4, successMessage) {
			return true
		}
	}
	return false
}

// redfishPendingSettings is the GET /redfish/v1/systems/1/bios/settings/
// response shape on ilo5, ported from
// original_source/requests.rs's RedfishPendingSettings.
type redfishPendingSettings struct {
	AttributeRegistry string                     `json:"AttributeRegistry"`
	Attributes        map[string]json.RawMessage `json:"Attributes"`
	Name              string                     `json:"Name"`
}

// redfishCurrentSettings is the GET /redfish/v1/systems/1/bios/ response
// shape on ilo5, ported from original_source/requests.rs's
// RedfishCurrentSettings.
type redfishCurrentSettings struct {
	Attributes map[string]json.RawMessage `json:"Attributes"`
	Name       string                     `json:"Name"`
}

// redfishUpdateAttribute wraps a PATCH body on ilo5 (which requires the
// attributes nested under an "Attributes" key, unlike ilo4's flat
// object), ported from original_source/requests.rs's
// RedfishUpdateAttribute.
type redfishUpdateAttribute struct {
	Attributes map[string]string `json:"Attributes"`
}

// Device drives BIOS attribute get/set against a specific iLO
// generation, matching original_source/requests.rs's IloDev trait and
// its Ilo4Dev/Ilo5Dev implementations.
type Device interface {
	// UpdateSetting PATCHes a single attribute to newValue and confirms
	// the BMC accepted it via the success message.
	UpdateSetting(client Requester, attribute, newValue string) error
	// GetPendingSettings returns attributes queued for the next reboot.
	GetPendingSettings(client Requester) (map[string]string, error)
	// GetCurrentSettings returns the BIOS's active attributes.
	GetCurrentSettings(client Requester) (map[string]string, error)
	// SettingsSelector names which attribute registry this device uses,
	// for diagnostics.
	SettingsSelector() string
}

// NewDevice returns the Device implementation appropriate for gen.
func NewDevice(gen Generation) Device {
	if gen == Ilo4 {
		return ilo4Device{}
	}
	return ilo5Device{} // ilo5 and ilo5-gen10plus share behavior
}

func rawToStrings(m map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}

type ilo5Device struct{}

func (ilo5Device) SettingsSelector() string { return "ilo5-bios" }

func (ilo5Device) UpdateSetting(client Requester, attribute, newValue string) error {
	payload := redfishUpdateAttribute{Attributes: map[string]string{attribute: newValue}}
	body, err := json.Marshal(payload)
	if err != nil {
		return settingserr.New(settingserr.ParseError, "ilorest.ilo5.UpdateSetting", err)
	}
	resp, err := client.Patch("/redfish/v1/systems/1/bios/settings/", string(body))
	if err != nil {
		return err
	}
	var result redfishPatchResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return settingserr.New(settingserr.ParseError, "ilorest.ilo5.UpdateSetting", err)
	}
	if !result.succeeded() {
		return settingserr.New(settingserr.NotModified, "ilorest.ilo5.UpdateSetting",
			fmt.Errorf("response did not confirm %q", successMessage))
	}
	return nil
}

func (ilo5Device) GetPendingSettings(client Requester) (map[string]string, error) {
	body, err := client.Get("/redfish/v1/systems/1/bios/settings/")
	if err != nil {
		return nil, err
	}
	var settings redfishPendingSettings
	if err := json.Unmarshal(body, &settings); err != nil {
		return nil, settingserr.New(settingserr.ParseError, "ilorest.ilo5.GetPendingSettings", err)
	}
	return rawToStrings(settings.Attributes), nil
}

func (ilo5Device) GetCurrentSettings(client Requester) (map[string]string, error) {
	body, err := client.Get("/redfish/v1/systems/1/bios/")
	if err != nil {
		return nil, err
	}
	var settings redfishCurrentSettings
	if err := json.Unmarshal(body, &settings); err != nil {
		return nil, settingserr.New(settingserr.ParseError, "ilorest.ilo5.GetCurrentSettings", err)
	}
	return rawToStrings(settings.Attributes), nil
}

type ilo4Device struct{}

func (ilo4Device) SettingsSelector() string { return "ilo4-bios" }

func (ilo4Device) UpdateSetting(client Requester, attribute, newValue string) error {
	payload := map[string]string{attribute: newValue}
	body, err := json.Marshal(payload)
	if err != nil {
		return settingserr.New(settingserr.ParseError, "ilorest.ilo4.UpdateSetting", err)
	}
	// Trailing slash required: without it ilo4 answers 308 Moved
	// Permanently instead of applying the PATCH.
	resp, err := client.Patch("/redfish/v1/systems/1/bios/settings/", string(body))
	if err != nil {
		return err
	}
	var result redfishPatchResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return settingserr.New(settingserr.ParseError, "ilorest.ilo4.UpdateSetting", err)
	}
	if !result.succeeded() {
		return settingserr.New(settingserr.NotModified, "ilorest.ilo4.UpdateSetting",
			fmt.Errorf("response did not confirm %q", successMessage))
	}
	return nil
}

func (ilo4Device) GetPendingSettings(client Requester) (map[string]string, error) {
	body, err := client.Get("/redfish/v1/systems/1/bios/settings/")
	if err != nil {
		return nil, err
	}
	return decodeIlo4Attributes(body)
}

func (ilo4Device) GetCurrentSettings(client Requester) (map[string]string, error) {
	body, err := client.Get("/redfish/v1/systems/1/bios/")
	if err != nil {
		return nil, err
	}
	return decodeIlo4Attributes(body)
}

// decodeIlo4Attributes decodes ilo4's flat "everything is one object"
// BIOS settings payload and strips the non-attribute keys HPE mixes in,
// ported from original_source/requests.rs's get_pending_settings /
// get_current_settings on Ilo4Dev.
func decodeIlo4Attributes(body []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, settingserr.New(settingserr.ParseError, "ilorest.ilo4.decodeAttributes", err)
	}
	for _, key := range ilo4IgnoredKeys {
		delete(raw, key)
	}
	return rawToStrings(raw), nil
}
