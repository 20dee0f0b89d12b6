// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dcache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webeonic/treegix-sub004/lib/ipmi"
	"github.com/webeonic/treegix-sub004/lib/sealed"
)

// Default values applied to inventory entries that leave them out.
const (
	DefaultPort      = "623"
	DefaultAuthType  = "default"
	DefaultPrivilege = "user"
	DefaultDelay     = time.Minute
)

// Inventory is the host and item inventory file.
//
//	macros:
//	  IPMI_PORT: "623"
//	hosts:
//	  - id: 10084
//	    name: rack4-node1
//	    ipmi:
//	      address: 10.0.0.5
//	      port: "{$IPMI_PORT}"
//	      privilege: admin
//	      username: monitor
//	      sealed_password: YWdlLWVuY3J5cHRpb24ub3Jn...
//	    items:
//	      - id: 28001
//	        key: ipmi.cpu_temp
//	        sensor: CPU Temp
//	        delay: 30s
type Inventory struct {
	// Macros are global user macros, referenced as {$NAME}.
	Macros map[string]string `yaml:"macros"`

	Hosts []HostConfig `yaml:"hosts"`
}

// HostConfig is one monitored host.
type HostConfig struct {
	ID   uint64 `yaml:"id"`
	Name string `yaml:"name"`

	// Macros override global macros of the same name for this host.
	Macros map[string]string `yaml:"macros"`

	IPMI  InterfaceConfig `yaml:"ipmi"`
	Items []ItemConfig    `yaml:"items"`
}

// InterfaceConfig is a host's IPMI interface and credentials.
type InterfaceConfig struct {
	Address string `yaml:"address"`

	// Port may contain user macros. It is expanded when a request is
	// built, not at load time.
	Port string `yaml:"port"`

	// AuthType is one of default, none, md2, md5, straight, oem, rmcp+.
	AuthType string `yaml:"authtype"`

	// Privilege is one of callback, user, operator, admin, oem.
	Privilege string `yaml:"privilege"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// SealedPassword is an age-encrypted password, base64-encoded.
	// It is decrypted at load time with the inventory identity and
	// replaces Password.
	SealedPassword string `yaml:"sealed_password"`
}

// ItemConfig is one polled sensor.
type ItemConfig struct {
	ID     uint64        `yaml:"id"`
	Key    string        `yaml:"key"`
	Sensor string        `yaml:"sensor"`
	Delay  time.Duration `yaml:"delay"`
}

var authTypes = map[string]int8{
	"default":  ipmi.AuthTypeDefault,
	"none":     ipmi.AuthTypeNone,
	"md2":      ipmi.AuthTypeMD2,
	"md5":      ipmi.AuthTypeMD5,
	"straight": ipmi.AuthTypeStraight,
	"oem":      ipmi.AuthTypeOEM,
	"rmcp+":    ipmi.AuthTypeRMCPPlus,
}

var privileges = map[string]uint8{
	"callback": ipmi.PrivilegeCallback,
	"user":     ipmi.PrivilegeUser,
	"operator": ipmi.PrivilegeOperator,
	"admin":    ipmi.PrivilegeAdmin,
	"oem":      ipmi.PrivilegeOEM,
}

// LoadInventory reads the inventory at path. identityFile is the age
// identity for sealed passwords; it may be empty if the inventory has
// none.
func LoadInventory(path, identityFile string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}

	var privateKey string
	if identityFile != "" {
		privateKey, err = sealed.ReadIdentityFile(identityFile)
		if err != nil {
			return nil, err
		}
	}

	inventory, err := ParseInventory(data, privateKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inventory, nil
}

// ParseInventory decodes an inventory, fills in defaults, decrypts
// sealed passwords with privateKey and validates the result. Unknown
// fields are errors.
func ParseInventory(data []byte, privateKey string) (*Inventory, error) {
	var inventory Inventory
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&inventory); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}

	inventory.applyDefaults()
	if err := inventory.unseal(privateKey); err != nil {
		return nil, err
	}
	if err := inventory.Validate(); err != nil {
		return nil, err
	}
	return &inventory, nil
}

func (inv *Inventory) applyDefaults() {
	for hostIndex := range inv.Hosts {
		host := &inv.Hosts[hostIndex]
		if host.IPMI.Port == "" {
			host.IPMI.Port = DefaultPort
		}
		if host.IPMI.AuthType == "" {
			host.IPMI.AuthType = DefaultAuthType
		}
		if host.IPMI.Privilege == "" {
			host.IPMI.Privilege = DefaultPrivilege
		}
		for itemIndex := range host.Items {
			if host.Items[itemIndex].Delay == 0 {
				host.Items[itemIndex].Delay = DefaultDelay
			}
		}
	}
}

func (inv *Inventory) unseal(privateKey string) error {
	for index := range inv.Hosts {
		host := &inv.Hosts[index]
		if host.IPMI.SealedPassword == "" {
			continue
		}
		if host.IPMI.Password != "" {
			return fmt.Errorf("host %d: password and sealed_password are mutually exclusive", host.ID)
		}
		if privateKey == "" {
			return fmt.Errorf("host %d: sealed_password requires inventory.identity_file", host.ID)
		}
		plaintext, err := sealed.Decrypt(host.IPMI.SealedPassword, privateKey)
		if err != nil {
			return fmt.Errorf("host %d: sealed_password: %w", host.ID, err)
		}
		host.IPMI.Password = string(plaintext)
		host.IPMI.SealedPassword = ""
	}
	return nil
}

// Validate checks the inventory for structural errors and returns all
// of them joined.
func (inv *Inventory) Validate() error {
	var errs []error
	hostIDs := make(map[uint64]bool)
	itemIDs := make(map[uint64]bool)

	for hostIndex, host := range inv.Hosts {
		where := fmt.Sprintf("hosts[%d]", hostIndex)
		if host.ID == 0 {
			errs = append(errs, fmt.Errorf("%s: id is required", where))
		} else if hostIDs[host.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate host id %d", where, host.ID))
		}
		hostIDs[host.ID] = true

		if host.IPMI.Address == "" {
			errs = append(errs, fmt.Errorf("%s: ipmi.address is required", where))
		}
		if _, ok := authTypes[strings.ToLower(host.IPMI.AuthType)]; !ok {
			errs = append(errs, fmt.Errorf("%s: unknown ipmi.authtype %q", where, host.IPMI.AuthType))
		}
		if _, ok := privileges[strings.ToLower(host.IPMI.Privilege)]; !ok {
			errs = append(errs, fmt.Errorf("%s: unknown ipmi.privilege %q", where, host.IPMI.Privilege))
		}

		for itemIndex, item := range host.Items {
			where := fmt.Sprintf("hosts[%d].items[%d]", hostIndex, itemIndex)
			if item.ID == 0 {
				errs = append(errs, fmt.Errorf("%s: id is required", where))
			} else if itemIDs[item.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate item id %d", where, item.ID))
			}
			itemIDs[item.ID] = true

			if item.Sensor == "" {
				errs = append(errs, fmt.Errorf("%s: sensor is required", where))
			} else if len(item.Sensor) > ipmi.MaxNameLength {
				errs = append(errs, fmt.Errorf("%s: sensor name longer than %d characters", where, ipmi.MaxNameLength))
			}
			if item.Delay < time.Second {
				errs = append(errs, fmt.Errorf("%s: delay must be at least 1s, got %s", where, item.Delay))
			}
		}
	}
	return errors.Join(errs...)
}

// Host returns the host with the given id.
func (inv *Inventory) Host(id uint64) (HostConfig, bool) {
	for _, host := range inv.Hosts {
		if host.ID == id {
			return host, true
		}
	}
	return HostConfig{}, false
}

// Interface resolves the host's interface settings to wire values. The
// port is left unexpanded.
func (h HostConfig) Interface() Interface {
	return Interface{
		Address:   h.IPMI.Address,
		Port:      h.IPMI.Port,
		AuthType:  authTypes[strings.ToLower(h.IPMI.AuthType)],
		Privilege: privileges[strings.ToLower(h.IPMI.Privilege)],
		Username:  h.IPMI.Username,
		Password:  h.IPMI.Password,
	}
}

// ExpandPort expands user macros in raw for the given host and parses
// the result as a port number.
func (inv *Inventory) ExpandPort(hostID uint64, raw string) (uint16, error) {
	host, _ := inv.Host(hostID)
	return ipmi.ExpandPort(raw, macroLookup(inv.Macros, host.Macros))
}

// macroLookup resolves a user macro from the host's macros first, then
// the global ones.
func macroLookup(global, host map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		if value, ok := host[name]; ok {
			return value, true
		}
		value, ok := global[name]
		return value, ok
	}
}
