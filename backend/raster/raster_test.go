package raster

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/gridpulse/elca"
	"github.com/gridpulse/elca/backend"
)

func TestAlignedRowBytes(t *testing.T) {
	tests := []struct {
		width int
		want  int
	}{
		{1, 256},
		{255, 256},
		{256, 256},
		{257, 512},
		{1024, 1024},
	}
	for _, tt := range tests {
		if got := alignedRowBytes(tt.width); got != tt.want {
			t.Errorf("alignedRowBytes(%d) = %d, want %d", tt.width, got, tt.want)
		}
	}
}

func TestPackParams(t *testing.T) {
	table := elca.Rule(30).Table()
	buf := packParams(101, table)

	if len(buf) != paramsSize {
		t.Fatalf("len = %d, want %d", len(buf), paramsSize)
	}
	invWidth := math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	if want := float32(1.0 / 101.0); invWidth != want {
		t.Errorf("inv_width = %v, want %v", invWidth, want)
	}
	for i, want := range table {
		got := binary.LittleEndian.Uint32(buf[16+i*4:])
		if got != uint32(want) {
			t.Errorf("table entry %d = %d, want %d", i, got, want)
		}
	}
}

func TestEncodeDecodeTexels(t *testing.T) {
	gen := elca.Generation{1, 0, 0, 1, 1}
	buf := encodeTexels(gen)
	for i, cell := range gen {
		want := byte(0)
		if cell == 1 {
			want = 255
		}
		if buf[i] != want {
			t.Errorf("texel %d = %d, want %d", i, buf[i], want)
		}
	}
	got := decodeTexels(buf, len(gen))
	if !got.Equal(gen) {
		t.Errorf("decode(encode(%v)) = %v", gen, got)
	}
}

func TestDecodeTexelsThreshold(t *testing.T) {
	got := decodeTexels([]byte{0, 127, 128, 255}, 4)
	if !got.Equal(elca.Generation{0, 0, 1, 1}) {
		t.Errorf("decodeTexels = %v, want [0 0 1 1]", got)
	}
}

func TestShaderEmbedded(t *testing.T) {
	for _, want := range []string{"@vertex", "@fragment", "vs_main", "fs_main", "array<vec4<u32>, 2>"} {
		if !strings.Contains(shaderTransition, want) {
			t.Errorf("transition.wgsl missing %q", want)
		}
	}
}

func TestRegistered(t *testing.T) {
	if !backend.Registered(backend.TierRaster) {
		t.Fatal("raster backend did not register itself")
	}
	b := backend.New(backend.TierRaster)
	if b.Tier() != backend.TierRaster {
		t.Errorf("Tier() = %v, want TierRaster", b.Tier())
	}
}

func TestInitInvalidWidth(t *testing.T) {
	r := New()
	for _, width := range []int{0, -1, maxGridWidth + 1} {
		if err := r.Init(width); err != elca.ErrInvalidGridSize {
			t.Errorf("Init(%d) = %v, want ErrInvalidGridSize", width, err)
		}
	}
}
