// Package raster implements the mid-tier backend: the transition function
// runs as a fragment program between two 1-row textures. It requires only
// render-pass support, so it survives on drivers where compute dispatch is
// broken or absent.
package raster

import (
	"context"
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gridpulse/elca"
	"github.com/gridpulse/elca/backend"
	"github.com/gridpulse/elca/internal/gpudev"
)

//go:embed shaders/transition.wgsl
var shaderTransition string

const (
	// maxGridWidth is a conservative bound on the 1D texture dimension
	// supported across backends.
	maxGridWidth = 16384

	// paramsSize is the byte size of the Params uniform in transition.wgsl.
	paramsSize = 12 * 4

	// copyPitchAlignment is the BytesPerRow alignment required by
	// CopyTextureToBuffer on WebGPU and DX12.
	copyPitchAlignment = 256

	deviceAcquireTimeout = 3 * time.Second
	fenceTimeout         = 5 * time.Second
)

func init() {
	backend.Register(backend.TierRaster, func() backend.Backend { return New() })
}

// Raster ping-pongs generations between two width x 1 R8Unorm textures.
// Each step renders a fullscreen triangle into the destination texture with
// the source texture bound for sampling, then copies the destination out
// through a staging buffer. Cells are stored as texels 0 or 255.
type Raster struct {
	dev      *gpudev.Device
	shareDev bool

	width int

	module         hal.ShaderModule
	bgLayout       hal.BindGroupLayout
	pipelineLayout hal.PipelineLayout
	pipeline       hal.RenderPipeline
	sampler        hal.Sampler

	srcTex  hal.Texture
	srcView hal.TextureView
	dstTex  hal.Texture
	dstView hal.TextureView

	params  hal.Buffer
	staging hal.Buffer

	rule      elca.Rule
	ruleValid bool

	front elca.Generation
}

// New returns a raster backend that opens its own device during Init.
func New() *Raster {
	return &Raster{}
}

// NewWithDevice returns a raster backend on an externally owned device.
func NewWithDevice(dev *gpudev.Device) *Raster {
	return &Raster{dev: dev, shareDev: true}
}

// Name implements backend.Backend.
func (r *Raster) Name() string { return "raster" }

// Tier implements backend.Backend.
func (r *Raster) Tier() backend.Tier { return backend.TierRaster }

// Init implements backend.Backend.
func (r *Raster) Init(width int) error {
	if width <= 0 || width > maxGridWidth {
		return elca.ErrInvalidGridSize
	}

	if r.dev == nil {
		dev, err := gpudev.Open(deviceAcquireTimeout)
		if err != nil {
			return err
		}
		r.dev = dev
	}
	r.width = width

	if err := r.createPipeline(); err != nil {
		r.Dispose()
		return fmt.Errorf("%w: %v", elca.ErrBackendUnavailable, err)
	}
	if err := r.createResources(); err != nil {
		r.Dispose()
		return fmt.Errorf("%w: %v", elca.ErrBackendUnavailable, err)
	}

	seed := elca.NewSeedGeneration(width)
	r.writeCells(r.srcTex, seed)
	r.front = seed
	r.ruleValid = false
	return nil
}

func (r *Raster) createPipeline() error {
	device := r.dev.HAL()

	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "ca_transition",
		Source: hal.ShaderSource{WGSL: shaderTransition},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	r.module = module

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "ca_transition_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	r.bgLayout = bgLayout

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "ca_transition_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	r.pipelineLayout = pipelineLayout

	// Repeat addressing provides the toroidal wraparound; nearest filtering
	// keeps cell values exact.
	sampler, err := device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "ca_transition_sampler",
		AddressModeU: gputypes.AddressModeRepeat,
		AddressModeV: gputypes.AddressModeRepeat,
		AddressModeW: gputypes.AddressModeRepeat,
		MagFilter:    gputypes.FilterModeNearest,
		MinFilter:    gputypes.FilterModeNearest,
		MipmapFilter: gputypes.FilterModeNearest,
	})
	if err != nil {
		return fmt.Errorf("create sampler: %w", err)
	}
	r.sampler = sampler

	pipeline, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "ca_transition",
		Layout: pipelineLayout,
		Vertex: hal.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    gputypes.TextureFormatR8Unorm,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create render pipeline: %w", err)
	}
	r.pipeline = pipeline
	return nil
}

func (r *Raster) createResources() error {
	device := r.dev.HAL()

	createTex := func(label string) (hal.Texture, hal.TextureView, error) {
		tex, err := device.CreateTexture(&hal.TextureDescriptor{
			Label:         label,
			Size:          hal.Extent3D{Width: uint32(r.width), Height: 1, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        gputypes.TextureFormatR8Unorm,
			Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding |
				gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create %s texture: %w", label, err)
		}
		view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
			Label: label + "_view",
		})
		if err != nil {
			device.DestroyTexture(tex)
			return nil, nil, fmt.Errorf("create %s view: %w", label, err)
		}
		return tex, view, nil
	}

	var err error
	if r.srcTex, r.srcView, err = createTex("ca_cells_a"); err != nil {
		return err
	}
	if r.dstTex, r.dstView, err = createTex("ca_cells_b"); err != nil {
		return err
	}

	r.params, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: "ca_transition_params",
		Size:  paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create params buffer: %w", err)
	}

	r.staging, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: "ca_transition_staging",
		Size:  uint64(alignedRowBytes(r.width)),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	return nil
}

// writeCells uploads a generation into a texture as 0/255 texels.
func (r *Raster) writeCells(tex hal.Texture, gen elca.Generation) {
	r.dev.Queue().WriteTexture(
		&hal.ImageCopyTexture{Texture: tex, MipLevel: 0},
		encodeTexels(gen),
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(len(gen)), RowsPerImage: 1},
		&hal.Extent3D{Width: uint32(len(gen)), Height: 1, DepthOrArrayLayers: 1},
	)
}

// ComputeNext implements backend.Backend.
func (r *Raster) ComputeNext(ctx context.Context, rule elca.Rule) (elca.Generation, error) {
	if r.pipeline == nil {
		return nil, backend.ErrNotInitialized
	}
	if !r.dev.Healthy() {
		return nil, elca.ErrBackendLost
	}

	device := r.dev.HAL()
	queue := r.dev.Queue()

	if !r.ruleValid || rule != r.rule {
		queue.WriteBuffer(r.params, 0, packParams(r.width, rule.Table()))
		r.rule = rule
		r.ruleValid = true
	}

	bg, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "ca_transition_bg",
		Layout: r.bgLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.params.NativeHandle()}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: r.srcView.NativeHandle()}},
			{Binding: 2, Resource: gputypes.SamplerBinding{Sampler: r.sampler.NativeHandle()}},
		},
	})
	if err != nil {
		r.dev.MarkLost()
		return nil, fmt.Errorf("%w: create bind group: %v", elca.ErrBackendLost, err)
	}
	defer device.DestroyBindGroup(bg)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "ca_transition"})
	if err != nil {
		r.dev.MarkLost()
		return nil, fmt.Errorf("%w: create command encoder: %v", elca.ErrBackendLost, err)
	}
	if err := encoder.BeginEncoding("ca_transition"); err != nil {
		r.dev.MarkLost()
		return nil, fmt.Errorf("%w: begin encoding: %v", elca.ErrBackendLost, err)
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "ca_transition_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       r.dstView,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{},
		}},
	})
	rp.SetPipeline(r.pipeline)
	rp.SetBindGroup(0, bg, nil)
	rp.Draw(3, 1, 0, 0)
	rp.End()

	rowBytes := alignedRowBytes(r.width)
	encoder.CopyTextureToBuffer(r.dstTex, r.staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(rowBytes), RowsPerImage: 1},
		TextureBase:  hal.ImageCopyTexture{Texture: r.dstTex, MipLevel: 0},
		Size:         hal.Extent3D{Width: uint32(r.width), Height: 1, DepthOrArrayLayers: 1},
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		r.dev.MarkLost()
		return nil, fmt.Errorf("%w: end encoding: %v", elca.ErrBackendLost, err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	fence, err := device.CreateFence()
	if err != nil {
		r.dev.MarkLost()
		return nil, fmt.Errorf("%w: create fence: %v", elca.ErrBackendLost, err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		r.dev.MarkLost()
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
		r.dev.MarkLost()
		return nil, fmt.Errorf("%w: wait for GPU: %v", elca.ErrBackendLost, err)
	}
	if !ok {
		r.dev.MarkLost()
		return nil, fmt.Errorf("%w: render pass exceeded %v", elca.ErrComputeTimeout, wait)
	}

	readback := make([]byte, rowBytes)
	if err := queue.ReadBuffer(r.staging, 0, readback); err != nil {
		r.dev.MarkLost()
		return nil, fmt.Errorf("%w: readback: %v", elca.ErrBackendLost, err)
	}

	r.srcTex, r.dstTex = r.dstTex, r.srcTex
	r.srcView, r.dstView = r.dstView, r.srcView
	r.front = decodeTexels(readback, r.width)
	return r.front.Clone(), nil
}

// Upload implements backend.Backend.
func (r *Raster) Upload(gen elca.Generation) error {
	if r.pipeline == nil {
		return backend.ErrNotInitialized
	}
	if len(gen) != r.width {
		return backend.ErrWidthMismatch
	}
	r.writeCells(r.srcTex, gen)
	r.front = gen.Clone()
	return nil
}

// Readback implements backend.Backend.
func (r *Raster) Readback() (elca.Generation, error) {
	if r.front == nil {
		return nil, backend.ErrNotInitialized
	}
	return r.front.Clone(), nil
}

// Health implements backend.Backend.
func (r *Raster) Health() error {
	if r.dev == nil || r.pipeline == nil {
		return backend.ErrNotInitialized
	}
	if !r.dev.Healthy() {
		return elca.ErrBackendLost
	}
	return nil
}

// Dispose implements backend.Backend.
func (r *Raster) Dispose() {
	if r.dev != nil {
		device := r.dev.HAL()
		if device != nil {
			if r.srcView != nil {
				device.DestroyTextureView(r.srcView)
			}
			if r.dstView != nil {
				device.DestroyTextureView(r.dstView)
			}
			if r.srcTex != nil {
				device.DestroyTexture(r.srcTex)
			}
			if r.dstTex != nil {
				device.DestroyTexture(r.dstTex)
			}
			if r.params != nil {
				device.DestroyBuffer(r.params)
			}
			if r.staging != nil {
				device.DestroyBuffer(r.staging)
			}
			if r.sampler != nil {
				device.DestroySampler(r.sampler)
			}
			if r.pipeline != nil {
				device.DestroyRenderPipeline(r.pipeline)
			}
			if r.pipelineLayout != nil {
				device.DestroyPipelineLayout(r.pipelineLayout)
			}
			if r.bgLayout != nil {
				device.DestroyBindGroupLayout(r.bgLayout)
			}
			if r.module != nil {
				device.DestroyShaderModule(r.module)
			}
		}
		if !r.shareDev {
			r.dev.Close()
			r.dev = nil
		}
	}
	r.srcTex, r.dstTex, r.srcView, r.dstView = nil, nil, nil, nil
	r.params, r.staging = nil, nil
	r.pipeline, r.pipelineLayout, r.bgLayout, r.module, r.sampler = nil, nil, nil, nil, nil
	r.front = nil
	r.ruleValid = false
	r.width = 0
}

// alignedRowBytes rounds the 1-byte-per-cell row up to the copy pitch
// alignment required for texture readback.
func alignedRowBytes(width int) int {
	return (width + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
}

// packParams serializes the Params uniform: the reciprocal grid width,
// three pad words, then the rule table as two vec4<u32>.
func packParams(width int, table elca.RuleTable) []byte {
	buf := make([]byte, paramsSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], math.Float32bits(1.0/float32(width)))
	for i, v := range table {
		le.PutUint32(buf[16+i*4:], uint32(v))
	}
	return buf
}

// encodeTexels maps cells to R8Unorm texels: 0 stays 0, 1 becomes 255.
func encodeTexels(gen elca.Generation) []byte {
	buf := make([]byte, len(gen))
	for i, cell := range gen {
		if cell != 0 {
			buf[i] = 255
		}
	}
	return buf
}

// decodeTexels thresholds readback texels at the midpoint so that minor
// filtering artifacts cannot flip a cell.
func decodeTexels(data []byte, width int) elca.Generation {
	gen := make(elca.Generation, width)
	for i := range gen {
		if data[i] > 127 {
			gen[i] = 1
		}
	}
	return gen
}
