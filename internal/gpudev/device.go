// Package gpudev acquires and tracks the GPU device shared by the
// accelerated backends. It wraps standalone Vulkan device creation as well
// as adoption of an externally owned device, and carries the lost flag the
// backends consult for health reporting.
package gpudev

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gridpulse/elca"
)

// Handle is an alias for gpucontext.DeviceProvider. Hosts that already own
// a GPU device (a windowing layer, another renderer) pass their provider
// through FromProvider so the backends reuse the device instead of opening
// a second one.
type Handle = gpucontext.DeviceProvider

// Device bundles the HAL device and queue with ownership and health state.
// A Device created by Open owns its instance and device and destroys them
// on Close; one adopted via FromProvider destroys nothing.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	adapterName string
	external    bool
	lost        bool
}

// openResult carries the outcome of a standalone device acquisition.
type openResult struct {
	dev *Device
	err error
}

// Open creates a standalone Vulkan device, preferring a discrete adapter
// over an integrated one. The whole acquisition is bounded by timeout: on
// overrun Open returns elca.ErrBackendUnavailable and a late success is
// disposed in the background, so a wedged driver can only cost one probe.
func Open(timeout time.Duration) (*Device, error) {
	ch := make(chan openResult, 1)
	go func() {
		dev, err := open()
		ch <- openResult{dev: dev, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", elca.ErrBackendUnavailable, res.err)
		}
		return res.dev, nil
	case <-time.After(timeout):
		go func() {
			if res := <-ch; res.dev != nil {
				res.dev.Close()
			}
		}()
		return nil, fmt.Errorf("%w: device acquisition exceeded %v", elca.ErrBackendUnavailable, timeout)
	}
}

func open() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("no GPU adapters found")
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		for i := range adapters {
			if adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
				selected = &adapters[i]
				break
			}
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}

	return &Device{
		instance:    instance,
		device:      openDev.Device,
		queue:       openDev.Queue,
		adapterName: selected.Info.Name,
	}, nil
}

// FromProvider adopts a device owned by an external provider. The provider
// must expose HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue; Close on the returned Device leaves the shared device intact.
func FromProvider(h Handle) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := any(h).(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider does not expose HAL types", elca.ErrBackendUnavailable)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", elca.ErrBackendUnavailable)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", elca.ErrBackendUnavailable)
	}
	return &Device{device: device, queue: queue, external: true}, nil
}

// HAL returns the underlying device handle.
func (d *Device) HAL() hal.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.device
}

// Queue returns the underlying queue handle.
func (d *Device) Queue() hal.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue
}

// AdapterName returns the adapter name for standalone devices, or "" for
// adopted ones.
func (d *Device) AdapterName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adapterName
}

// MarkLost records that a submission or fence wait failed. Subsequent
// Healthy calls report false until the device is replaced.
func (d *Device) MarkLost() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// Healthy reports whether the device is still usable.
func (d *Device) Healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.lost
}

// Close destroys the device and instance if this Device owns them. Adopted
// devices are released without destruction.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.external {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
}
