// Package metadata records the VirtualMachine resource inside the libvirt
// domain definition, so the resource that produced a machine travels with it
// and can be read back by get and list without any external store.
//
// Two elements are written into the domain <metadata> block at creation:
//
//	<libosinfo xmlns="http://libosinfo.org/xmlns/libvirt/domain/1.0">
//	  <os id="fedora43"/>
//	</libosinfo>
//	<machine xmlns="http://anvil.cofront.xyz/v1alpha1" settingsFile="/var/lib/anvil/node1/node1.xml">
//	  apiVersion: anvil.cofront.xyz/v1alpha1
//	  ...
//	</machine>
//
// The resource is stored as YAML text so it stays readable in virsh dumpxml.
package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

const (
	// Namespace is the XML namespace of the anvil metadata element.
	Namespace = "http://anvil.cofront.xyz/v1alpha1"

	// OSInfoNamespace is the libosinfo namespace used by virt-install and
	// virt-manager to record the guest OS.
	OSInfoNamespace = "http://libosinfo.org/xmlns/libvirt/domain/1.0"
)

// ErrNotManaged is returned when a domain carries no anvil metadata.
var ErrNotManaged = errors.New("domain has no anvil metadata")

// machineElement is the anvil metadata element.
type machineElement struct {
	XMLName      xml.Name `xml:"http://anvil.cofront.xyz/v1alpha1 machine"`
	SettingsFile string   `xml:"settingsFile,attr,omitempty"`
	ResourceYAML string   `xml:",chardata"`
}

type osInfoElement struct {
	XMLName xml.Name `xml:"http://libosinfo.org/xmlns/libvirt/domain/1.0 libosinfo"`
	OS      struct {
		ID string `xml:"id,attr"`
	} `xml:"http://libosinfo.org/xmlns/libvirt/domain/1.0 os"`
}

// Entry is what a domain's metadata says about the machine.
type Entry struct {
	Resource     *v1alpha1.VirtualMachine
	SettingsFile string
	OSTypeID     string
}

// Encode serializes vm and the settings file path into the anvil metadata
// element. Status is not recorded.
func Encode(vm *v1alpha1.VirtualMachine, settingsFile string) (string, error) {
	stored := vm.DeepCopy()
	stored.Status = v1alpha1.VirtualMachineStatus{}

	yamlData, err := yaml.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM to YAML: %w", err)
	}

	out, err := xml.Marshal(machineElement{
		SettingsFile: settingsFile,
		ResourceYAML: "\n" + string(yamlData),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}
	return string(out), nil
}

// DomainMetadataXML returns the inner XML of a domain <metadata> block: the
// libosinfo element for osTypeID followed by the anvil element.
func DomainMetadataXML(vm *v1alpha1.VirtualMachine, settingsFile string) (string, error) {
	var b strings.Builder

	if vm.Spec.OSTypeID != "" {
		var osinfo osInfoElement
		osinfo.OS.ID = vm.Spec.OSTypeID
		out, err := xml.Marshal(osinfo)
		if err != nil {
			return "", fmt.Errorf("failed to marshal libosinfo metadata: %w", err)
		}
		b.Write(out)
	}

	machine, err := Encode(vm, settingsFile)
	if err != nil {
		return "", err
	}
	b.WriteString(machine)

	return b.String(), nil
}

// Decode parses a single anvil metadata element, as returned by
// DomainGetMetadata.
func Decode(elementXML string) (*Entry, error) {
	var elem machineElement
	if err := xml.Unmarshal([]byte(elementXML), &elem); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}
	return entryFromElement(elem)
}

// FromDomainMetadata scans the inner XML of a domain <metadata> block for the
// anvil and libosinfo elements.
func FromDomainMetadata(innerXML string) (*Entry, error) {
	dec := xml.NewDecoder(strings.NewReader(innerXML))

	var (
		entry    *Entry
		osTypeID string
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse domain metadata: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case start.Name.Space == Namespace && start.Name.Local == "machine":
			var elem machineElement
			if err := dec.DecodeElement(&elem, &start); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
			}
			if entry, err = entryFromElement(elem); err != nil {
				return nil, err
			}
		case start.Name.Space == OSInfoNamespace && start.Name.Local == "libosinfo":
			var elem osInfoElement
			if err := dec.DecodeElement(&elem, &start); err != nil {
				return nil, fmt.Errorf("failed to unmarshal libosinfo metadata: %w", err)
			}
			osTypeID = elem.OS.ID
		}
	}

	if entry == nil {
		return nil, ErrNotManaged
	}
	entry.OSTypeID = osTypeID
	return entry, nil
}

func entryFromElement(elem machineElement) (*Entry, error) {
	var vm v1alpha1.VirtualMachine
	if err := yaml.Unmarshal([]byte(elem.ResourceYAML), &vm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal VM from YAML: %w", err)
	}
	return &Entry{
		Resource:     &vm,
		SettingsFile: elem.SettingsFile,
		OSTypeID:     vm.Spec.OSTypeID,
	}, nil
}

// Reader is the subset of go-libvirt needed to read domain metadata.
type Reader interface {
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
}

// Load reads the anvil metadata of a defined domain. Domains that were not
// created by anvil yield ErrNotManaged.
func Load(r Reader, dom libvirt.Domain) (*Entry, error) {
	xmlStr, err := r.DomainGetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		var lerr libvirt.Error
		if errors.As(err, &lerr) && lerr.Code == uint32(libvirt.ErrNoDomainMetadata) {
			return nil, ErrNotManaged
		}
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}

	return Decode(xmlStr)
}
