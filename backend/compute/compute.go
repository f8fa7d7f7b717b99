// Package compute implements the highest-capability backend: a WGSL
// compute program dispatched over two linear storage buffers that are
// ping-ponged between generations.
package compute

import (
	"context"
	_ "embed"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gridpulse/elca"
	"github.com/gridpulse/elca/backend"
	"github.com/gridpulse/elca/internal/gpudev"
)

//go:embed shaders/step.wgsl
var shaderStep string

const (
	// wgSize is the workgroup size declared in step.wgsl.
	wgSize = 256

	// maxGridWidth is bounded by the dispatch limit of 65535 workgroups
	// on the X axis.
	maxGridWidth = 65535 * wgSize

	// paramsSize is the byte size of the Params uniform in step.wgsl:
	// width + 3 pad words + the rule table as two vec4<u32>.
	paramsSize = 12 * 4

	// deviceAcquireTimeout bounds standalone device creation during Init.
	deviceAcquireTimeout = 3 * time.Second

	// fenceTimeout is the maximum time to wait for a dispatch to complete
	// when the caller's context carries no earlier deadline.
	fenceTimeout = 5 * time.Second
)

func init() {
	backend.Register(backend.TierCompute, func() backend.Backend { return New() })
}

// Compute advances generations on the GPU. Cells live in two N*4-byte
// storage buffers; every step dispatches the transition program from one
// into the other, swaps the roles, and reads the result back through a
// staging buffer. The bind group is rebuilt after every swap because the
// buffers trade bindings.
type Compute struct {
	dev      *gpudev.Device
	shareDev bool

	width int

	module         hal.ShaderModule
	bgLayout       hal.BindGroupLayout
	pipelineLayout hal.PipelineLayout
	pipeline       hal.ComputePipeline

	input   hal.Buffer
	output  hal.Buffer
	params  hal.Buffer
	staging hal.Buffer

	rule      elca.Rule
	ruleValid bool

	// front mirrors the generation currently in the input buffer. Every
	// ComputeNext reads the result back anyway, so Readback is free.
	front elca.Generation
}

// New returns a compute backend that opens its own device during Init.
func New() *Compute {
	return &Compute{}
}

// NewWithDevice returns a compute backend that runs on an externally owned
// device. Dispose releases the backend's resources but not the device.
func NewWithDevice(dev *gpudev.Device) *Compute {
	return &Compute{dev: dev, shareDev: true}
}

// Name implements backend.Backend.
func (c *Compute) Name() string { return "compute" }

// Tier implements backend.Backend.
func (c *Compute) Tier() backend.Tier { return backend.TierCompute }

// Init implements backend.Backend.
func (c *Compute) Init(width int) error {
	if width <= 0 || width > maxGridWidth {
		return elca.ErrInvalidGridSize
	}

	if c.dev == nil {
		dev, err := gpudev.Open(deviceAcquireTimeout)
		if err != nil {
			return err
		}
		c.dev = dev
	}
	c.width = width

	if err := c.createPipeline(); err != nil {
		c.Dispose()
		return fmt.Errorf("%w: %v", elca.ErrBackendUnavailable, err)
	}
	if err := c.createBuffers(); err != nil {
		c.Dispose()
		return fmt.Errorf("%w: %v", elca.ErrBackendUnavailable, err)
	}

	seed := elca.NewSeedGeneration(width)
	c.dev.Queue().WriteBuffer(c.input, 0, encodeCells(seed))
	c.front = seed
	c.ruleValid = false
	return nil
}

func (c *Compute) createPipeline() error {
	spirv, err := compileWGSL(shaderStep)
	if err != nil {
		return fmt.Errorf("compile shader: %w", err)
	}

	device := c.dev.HAL()
	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "ca_step",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	c.module = module

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "ca_step_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	c.bgLayout = bgLayout

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "ca_step_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	c.pipelineLayout = pipelineLayout

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "ca_step",
		Layout: pipelineLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	c.pipeline = pipeline
	return nil
}

func (c *Compute) createBuffers() error {
	device := c.dev.HAL()
	cellBytes := uint64(c.width) * 4

	// Both cell buffers carry the full usage set: after a swap the former
	// output serves as input and receives Upload writes.
	cellUsage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc

	type bufSpec struct {
		target *hal.Buffer
		label  string
		size   uint64
		usage  gputypes.BufferUsage
	}
	specs := []bufSpec{
		{&c.input, "ca_cells_a", cellBytes, cellUsage},
		{&c.output, "ca_cells_b", cellBytes, cellUsage},
		{&c.params, "ca_params", paramsSize, gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst},
		{&c.staging, "ca_staging", cellBytes, gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst},
	}
	for _, s := range specs {
		buf, err := device.CreateBuffer(&hal.BufferDescriptor{
			Label: s.label,
			Size:  s.size,
			Usage: s.usage,
		})
		if err != nil {
			return fmt.Errorf("create %s buffer: %w", s.label, err)
		}
		*s.target = buf
	}
	return nil
}

// ComputeNext implements backend.Backend.
func (c *Compute) ComputeNext(ctx context.Context, rule elca.Rule) (elca.Generation, error) {
	if c.pipeline == nil {
		return nil, backend.ErrNotInitialized
	}
	if !c.dev.Healthy() {
		return nil, elca.ErrBackendLost
	}

	device := c.dev.HAL()
	queue := c.dev.Queue()

	if !c.ruleValid || rule != c.rule {
		queue.WriteBuffer(c.params, 0, packParams(uint32(c.width), rule.Table()))
		c.rule = rule
		c.ruleValid = true
	}

	bg, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "ca_step_bg",
		Layout: c.bgLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: c.params.NativeHandle()}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: c.input.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: c.output.NativeHandle()}},
		},
	})
	if err != nil {
		c.dev.MarkLost()
		return nil, fmt.Errorf("%w: create bind group: %v", elca.ErrBackendLost, err)
	}
	defer device.DestroyBindGroup(bg)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "ca_step"})
	if err != nil {
		c.dev.MarkLost()
		return nil, fmt.Errorf("%w: create command encoder: %v", elca.ErrBackendLost, err)
	}
	if err := encoder.BeginEncoding("ca_step"); err != nil {
		c.dev.MarkLost()
		return nil, fmt.Errorf("%w: begin encoding: %v", elca.ErrBackendLost, err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "ca_step"})
	pass.SetPipeline(c.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(workgroupCount(c.width), 1, 1)
	pass.End()

	cellBytes := uint64(c.width) * 4
	encoder.CopyBufferToBuffer(c.output, c.staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: cellBytes},
	})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		c.dev.MarkLost()
		return nil, fmt.Errorf("%w: end encoding: %v", elca.ErrBackendLost, err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	fence, err := device.CreateFence()
	if err != nil {
		c.dev.MarkLost()
		return nil, fmt.Errorf("%w: create fence: %v", elca.ErrBackendLost, err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		c.dev.MarkLost()
		return nil, fmt.Errorf("%w: submit: %v", elca.ErrBackendLost, err)
	}

	wait := fenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	ok, err := device.Wait(fence, 1, wait)
	if err != nil {
		c.dev.MarkLost()
		return nil, fmt.Errorf("%w: wait for GPU: %v", elca.ErrBackendLost, err)
	}
	if !ok {
		c.dev.MarkLost()
		return nil, fmt.Errorf("%w: dispatch exceeded %v", elca.ErrComputeTimeout, wait)
	}

	readback := make([]byte, cellBytes)
	if err := queue.ReadBuffer(c.staging, 0, readback); err != nil {
		c.dev.MarkLost()
		return nil, fmt.Errorf("%w: readback: %v", elca.ErrBackendLost, err)
	}

	c.input, c.output = c.output, c.input
	c.front = decodeCells(readback, c.width)
	return c.front.Clone(), nil
}

// Upload implements backend.Backend.
func (c *Compute) Upload(gen elca.Generation) error {
	if c.pipeline == nil {
		return backend.ErrNotInitialized
	}
	if len(gen) != c.width {
		return backend.ErrWidthMismatch
	}
	c.dev.Queue().WriteBuffer(c.input, 0, encodeCells(gen))
	c.front = gen.Clone()
	return nil
}

// Readback implements backend.Backend.
func (c *Compute) Readback() (elca.Generation, error) {
	if c.front == nil {
		return nil, backend.ErrNotInitialized
	}
	return c.front.Clone(), nil
}

// Health implements backend.Backend.
func (c *Compute) Health() error {
	if c.dev == nil || c.pipeline == nil {
		return backend.ErrNotInitialized
	}
	if !c.dev.Healthy() {
		return elca.ErrBackendLost
	}
	return nil
}

// Dispose implements backend.Backend.
func (c *Compute) Dispose() {
	if c.dev != nil {
		device := c.dev.HAL()
		if device != nil {
			for _, buf := range []hal.Buffer{c.input, c.output, c.params, c.staging} {
				if buf != nil {
					device.DestroyBuffer(buf)
				}
			}
			if c.pipeline != nil {
				device.DestroyComputePipeline(c.pipeline)
			}
			if c.pipelineLayout != nil {
				device.DestroyPipelineLayout(c.pipelineLayout)
			}
			if c.bgLayout != nil {
				device.DestroyBindGroupLayout(c.bgLayout)
			}
			if c.module != nil {
				device.DestroyShaderModule(c.module)
			}
		}
		if !c.shareDev {
			c.dev.Close()
			c.dev = nil
		}
	}
	c.input, c.output, c.params, c.staging = nil, nil, nil, nil
	c.pipeline, c.pipelineLayout, c.bgLayout, c.module = nil, nil, nil, nil
	c.front = nil
	c.ruleValid = false
	c.width = 0
}

// compileWGSL compiles WGSL source to SPIR-V words. SPIR-V is little-endian
// 32-bit words.
func compileWGSL(src string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, err
	}
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return code, nil
}

// workgroupCount returns the number of workgroups needed to cover width
// cells, ceiling division by the shader's workgroup size.
func workgroupCount(width int) uint32 {
	return uint32((width + wgSize - 1) / wgSize)
}

// packParams serializes the Params uniform: width, three pad words, then
// the eight rule table entries as two vec4<u32>.
func packParams(width uint32, table elca.RuleTable) []byte {
	buf := make([]byte, paramsSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], width)
	for i, v := range table {
		le.PutUint32(buf[16+i*4:], uint32(v))
	}
	return buf
}

// encodeCells expands a generation to the u32-per-cell buffer layout.
func encodeCells(gen elca.Generation) []byte {
	buf := make([]byte, len(gen)*4)
	for i, cell := range gen {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(cell))
	}
	return buf
}

// decodeCells converts a readback buffer to a generation, treating any
// nonzero word as a live cell.
func decodeCells(data []byte, width int) elca.Generation {
	gen := make(elca.Generation, width)
	for i := range gen {
		if binary.LittleEndian.Uint32(data[i*4:]) != 0 {
			gen[i] = 1
		}
	}
	return gen
}
