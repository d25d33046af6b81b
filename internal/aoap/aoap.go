// Package aoap discovers Android phones on USB and drives the
// Android Open Accessory Protocol handshake that switches a phone
// into its AOAP product id, per spec.md §4.7.
package aoap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	usb "github.com/kevmo314/go-usb"

	"github.com/ocx/aacore/internal/transport"
)

// Google's USB vendor id and the two accessory-mode product ids a
// phone re-enumerates under once the query chain completes.
const (
	VendorGoogle   = 0x18D1
	ProductAOAP    = 0x2D00
	ProductAOAPAdb = 0x2D01
)

// Vendor-specific AOAP control request codes (bmRequestType 0x40/0xC0).
const (
	requestGetProtocol = 51
	requestSendString  = 52
	requestStart       = 53
)

// wIndex values for the six SEND_STRING steps, in query-chain order.
const (
	stringIndexManufacturer = 0
	stringIndexModel        = 1
	stringIndexDescription  = 2
	stringIndexVersion      = 3
	stringIndexURI          = 4
	stringIndexSerial       = 5
)

// Identity is the embedded string table sent during the query chain
// (spec.md §6).
type Identity struct {
	Manufacturer string
	Model        string
	Description  string
	Version      string
	URI          string
	Serial       string
}

// DefaultIdentity matches spec.md §6's literal embedded values; URI
// and serial are left for the embedder to configure.
func DefaultIdentity(uri, serial string) Identity {
	return Identity{
		Manufacturer: "Android",
		Model:        "Android Auto",
		Description:  "Android Auto",
		Version:      "2.0.1",
		URI:          uri,
		Serial:       serial,
	}
}

func (id Identity) strings() [6]string {
	return [6]string{id.Manufacturer, id.Model, id.Description, id.Version, id.URI, id.Serial}
}

// QueryChainTimeout is the hard watchdog on the 8-step query chain
// (spec.md §4.7/§5).
const QueryChainTimeout = 30 * time.Second

// AoapQueryError reports which of the 8 query-chain steps failed and
// the native USB error underneath it.
type AoapQueryError struct {
	Step int
	Err  error
}

func (e *AoapQueryError) Error() string {
	return fmt.Sprintf("aoap: query chain step %d failed: %v", e.Step, e.Err)
}

func (e *AoapQueryError) Unwrap() error { return e.Err }

// ControlTransferer is the slice of *usb.DeviceHandle's method set the
// query chain needs; narrowing to an interface here lets tests drive
// RunQueryChain against a fake without opening a real USB device.
type ControlTransferer interface {
	ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
}

// Classification is the result of inspecting one enumerated USB
// device against spec.md §4.7's decision tree.
type Classification int

const (
	// ClassifyIgnore covers root hubs and anything not worth probing.
	ClassifyIgnore Classification = iota
	// ClassifyAlreadyAOAP is a device already re-enumerated under an
	// AOAP product id; open and bind directly.
	ClassifyAlreadyAOAP
	// ClassifyCandidate is any other device (a Google-vendor Android
	// phone, or an unknown device worth probing) the query chain
	// should be attempted against.
	ClassifyCandidate
)

// hubDeviceClass is the USB-IF hub device class, present on every
// bus's root and not a phone under any circumstance.
const hubDeviceClass = 0x09

// Classify implements spec.md §4.7's device triage.
func Classify(dev *usb.Device) Classification {
	desc := dev.Descriptor
	if desc.DeviceClass == hubDeviceClass {
		return ClassifyIgnore
	}
	if desc.VendorID == VendorGoogle && (desc.ProductID == ProductAOAP || desc.ProductID == ProductAOAPAdb) {
		return ClassifyAlreadyAOAP
	}
	return ClassifyCandidate
}

// OpenAlreadyAOAP opens a device already in accessory mode, binding
// to its accessory interface and detaching any kernel driver still
// attached to it. It retries Open up to three times with 300ms
// spacing to tolerate the brief window right after re-enumeration
// where the device node exists but isn't yet fully bound.
func OpenAlreadyAOAP(dev *usb.Device, accessoryInterface uint8) (*usb.DeviceHandle, error) {
	const maxAttempts = 3
	const retrySpacing = 300 * time.Millisecond

	var handle *usb.DeviceHandle
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		handle, err = dev.Open()
		if err == nil {
			break
		}
		if attempt < maxAttempts {
			time.Sleep(retrySpacing)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("aoap: open already-aoap device after %d attempts: %w", maxAttempts, err)
	}

	if claimErr := handle.ClaimInterface(accessoryInterface); claimErr != nil {
		// The interface may still be bound to a kernel driver (e.g.
		// a generic accessory driver); detach and retry once.
		if detachErr := handle.DetachKernelDriver(accessoryInterface); detachErr != nil {
			handle.Close()
			return nil, fmt.Errorf("aoap: detach kernel driver: %w", detachErr)
		}
		if claimErr := handle.ClaimInterface(accessoryInterface); claimErr != nil {
			handle.Close()
			return nil, fmt.Errorf("aoap: claim accessory interface: %w", claimErr)
		}
	}

	return handle, nil
}

// RunQueryChain switches a candidate Android device into AOAP mode by
// running the fixed 8-step vendor control-transfer sequence under a
// hard watchdog. On success the device re-enumerates under an AOAP
// product id; the caller relies on hot-plug or a fresh device scan to
// pick it back up (spec.md §4.7 — this function does not wait for
// re-enumeration).
func RunQueryChain(ctx context.Context, handle ControlTransferer, id Identity) error {
	ctx, cancel := context.WithTimeout(ctx, QueryChainTimeout)
	defer cancel()

	step := 0
	do := func(bmRequestType, bRequest uint8, value, index uint16, data []byte) error {
		step++
		select {
		case <-ctx.Done():
			return &AoapQueryError{Step: step, Err: ctx.Err()}
		default:
		}
		_, err := handle.ControlTransfer(bmRequestType, bRequest, value, index, data, 5*time.Second)
		if err != nil {
			slog.Warn("aoap: query chain step failed", "stage", "query_chain", "step", step, "error", err)
			return &AoapQueryError{Step: step, Err: err}
		}
		return nil
	}

	protocolVersion := make([]byte, 2)
	if err := do(0xC0, requestGetProtocol, 0, 0, protocolVersion); err != nil {
		return err
	}
	if protocolVersion[0] == 0 && protocolVersion[1] == 0 {
		return &AoapQueryError{Step: step, Err: fmt.Errorf("protocol version 0 reported, device does not support AOAP")}
	}

	strs := id.strings()
	indices := [6]uint16{stringIndexManufacturer, stringIndexModel, stringIndexDescription, stringIndexVersion, stringIndexURI, stringIndexSerial}
	for i, s := range strs {
		payload := append([]byte(s), 0x00)
		if err := do(0x40, requestSendString, 0, indices[i], payload); err != nil {
			return err
		}
	}

	if err := do(0x40, requestStart, 0, 0, nil); err != nil {
		return err
	}
	return nil
}

// endpointDirectionIn is the high bit of an endpoint address that
// marks it device-to-host.
const endpointDirectionIn = 0x80

// endpointTypeBulk is the low two bits of an endpoint's Attributes
// byte identifying a bulk endpoint.
const endpointTypeBulk = 0x02

// FindAccessoryEndpoints locates the in/out bulk endpoint pair on the
// claimed accessory interface, the pair AOAP mode always exposes
// (spec.md §4.7 — "the accessory interface exposes exactly one bulk
// IN and one bulk OUT endpoint").
func FindAccessoryEndpoints(handle *usb.DeviceHandle, accessoryInterface uint8) (transport.Endpoints, error) {
	config, err := handle.GetConfigDescriptorByValue(0)
	if err != nil {
		return transport.Endpoints{}, fmt.Errorf("aoap: read config descriptor: %w", err)
	}

	for _, iface := range config.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.InterfaceNumber != accessoryInterface {
				continue
			}
			var eps transport.Endpoints
			var foundIn, foundOut bool
			for _, ep := range alt.Endpoints {
				if ep.Attributes&0x03 != endpointTypeBulk {
					continue
				}
				if ep.EndpointAddr&endpointDirectionIn != 0 {
					eps.In = ep.EndpointAddr
					foundIn = true
				} else {
					eps.Out = ep.EndpointAddr
					foundOut = true
				}
			}
			if foundIn && foundOut {
				return eps, nil
			}
		}
	}
	return transport.Endpoints{}, fmt.Errorf("aoap: accessory interface %d exposes no bulk in/out endpoint pair", accessoryInterface)
}

// DeviceDescriptor carries the operator-facing identity of a physical
// USB device — which port it's plugged into and its serial number —
// alongside the raw vendor/product id pair. Diagnostics only; nothing
// in the protocol stack keys behavior off these fields.
type DeviceDescriptor struct {
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	BusPath      string
}

// DescribeDevice reads the serial number string descriptor (if any)
// off an already-open handle and pairs it with the device's bus path,
// for the session-connected event and audit record.
func DescribeDevice(dev *usb.Device, handle *usb.DeviceHandle) DeviceDescriptor {
	desc := DeviceDescriptor{
		VendorID:  dev.Descriptor.VendorID,
		ProductID: dev.Descriptor.ProductID,
		BusPath:   dev.Path,
	}
	if dev.Descriptor.SerialNumberIndex != 0 {
		if serial, err := handle.GetStringDescriptor(dev.Descriptor.SerialNumberIndex); err == nil {
			desc.SerialNumber = serial
		}
	}
	return desc
}

// Discover scans the USB device list once and returns the classified
// devices, letting the session supervisor decide what to do with
// each — open directly (ClassifyAlreadyAOAP) or run the query chain
// (ClassifyCandidate).
func Discover() ([]*usb.Device, map[*usb.Device]Classification, error) {
	devices, err := usb.DeviceList()
	if err != nil {
		return nil, nil, fmt.Errorf("aoap: enumerate USB devices: %w", err)
	}
	classes := make(map[*usb.Device]Classification, len(devices))
	for _, dev := range devices {
		classes[dev] = Classify(dev)
	}
	return devices, classes, nil
}
