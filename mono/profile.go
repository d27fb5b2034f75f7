package mono

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrProfileIncomplete is returned when a walk needs an offset the profile does not carry.
var ErrProfileIncomplete = errors.New("profile is missing an offset")

// Offset is a module-relative address. JSON accepts a number or a "0x" string.
type Offset uint64

func (o Offset) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%X", uint64(o)))
}

func (o *Offset) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return fmt.Errorf("offset %q: %w", s, err)
		}
		*o = Offset(v)
		return nil
	}

	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Offset(v)
	return nil
}

// Offsets are the module-relative statics the walks start from. They change
// with every runtime build, so they come from profiles rather than code.
type Offsets struct {
	// Assemblies is the loaded-assembly list: a GList head pointer (legacy)
	// or a std::vector of assembly pointers (AOT).
	Assemblies Offset `json:"assemblies,omitempty"`

	// TypeInfoTable is the AOT global table of class pointers.
	TypeInfoTable Offset `json:"type_info_table,omitempty"`
}

// Profile names a runtime module, its ABI and the offsets for that build.
type Profile struct {
	Name   string `json:"name,omitempty"`
	Module string `json:"module"`
	ABI    ABI    `json:"abi"`
	Offsets
}

func (p Profile) Validate() error {
	if p.Module == "" {
		return errors.New("profile has no module name")
	}
	if p.ABI != ABILegacy && p.ABI != ABIAOT {
		return fmt.Errorf("profile %s: invalid ABI %d", p.Module, int(p.ABI))
	}
	return nil
}

func (p Profile) String() string {
	name := p.Name
	if name == "" {
		name = p.Module
	}
	return fmt.Sprintf("%s (%s, %s)", name, p.Module, p.ABI)
}

// BuiltinProfiles are the module names the two runtimes ship under. They
// carry no offsets; pair them with a profile file for a specific build.
var BuiltinProfiles = []Profile{
	{Name: "mono-windows", Module: "mono-2.0-bdwgc.dll", ABI: ABILegacy},
	{Name: "mono-linux", Module: "libmonobdwgc-2.0.so", ABI: ABILegacy},
	{Name: "il2cpp-windows", Module: "GameAssembly.dll", ABI: ABIAOT},
	{Name: "il2cpp-linux", Module: "GameAssembly.so", ABI: ABIAOT},
}

// ProfileForModule returns the built-in profile for a module file name.
func ProfileForModule(module string) (Profile, bool) {
	for _, p := range BuiltinProfiles {
		if strings.EqualFold(p.Module, module) {
			return p, true
		}
	}
	return Profile{}, false
}

// ParseProfiles decodes a single profile object or an array of them.
func ParseProfiles(data []byte) ([]Profile, error) {
	data = bytes.TrimSpace(data)

	var profiles []Profile
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &profiles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profiles: %w", err)
		}
	} else {
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return profiles, nil
}

// LoadProfiles reads a profile file written as one object or an array.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfiles(data)
}
