package cpu

import (
	"context"
	"errors"
	"testing"

	"github.com/gridpulse/elca"
	"github.com/gridpulse/elca/backend"
)

// rule30Width101 holds the first 50 generations of rule 30 on a toroidal
// grid of width 101, starting from the single center seed. Each row is the
// generation after the one above it; the seed row itself is not included.
var rule30Width101 = []string{
	"00000000000000000000000000000000000000000000000001110000000000000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000000000000011001000000000000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000000000000110111100000000000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000000000001100100010000000000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000000000011011110111000000000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000000000110010000100100000000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000000001101111001111110000000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000000011001000111000001000000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000000110111101100100011100000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000001100100001011110110010000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000011011110011010000101111000000000000000000000000000000000000000",
	"00000000000000000000000000000000000000110010001110011001101000100000000000000000000000000000000000000",
	"00000000000000000000000000000000000001101111011001110111001101110000000000000000000000000000000000000",
	"00000000000000000000000000000000000011001000010111000100111001001000000000000000000000000000000000000",
	"00000000000000000000000000000000000110111100110100101111100111111100000000000000000000000000000000000",
	"00000000000000000000000000000000001100100011100111101000011100000010000000000000000000000000000000000",
	"00000000000000000000000000000000011011110110011100001100110010000111000000000000000000000000000000000",
	"00000000000000000000000000000000110010000101110010011011101111001100100000000000000000000000000000000",
	"00000000000000000000000000000001101111001101001111110010001000111011110000000000000000000000000000000",
	"00000000000000000000000000000011001000111001111000001111011101100010001000000000000000000000000000000",
	"00000000000000000000000000000110111101100111000100011000010001010111011100000000000000000000000000000",
	"00000000000000000000000000001100100001011100101110110100111011010100010010000000000000000000000000000",
	"00000000000000000000000000011011110011010011101000100111100010010110111111000000000000000000000000000",
	"00000000000000000000000000110010001110011110001101111100010111110100100000100000000000000000000000000",
	"00000000000000000000000001101111011001110001011001000010110100000111110001110000000000000000000000000",
	"00000000000000000000000011001000010111001011010111100110100110001100001011001000000000000000000000000",
	"00000000000000000000000110111100110100111010010100011100111101011010011010111100000000000000000000000",
	"00000000000000000000001100100011100111100011110110110011100001010011110010100010000000000000000000000",
	"00000000000000000000011011110110011100010110000100101110010011011110001110110111000000000000000000000",
	"00000000000000000000110010000101110010110101001111101001111110010001011000100100100000000000000000000",
	"00000000000000000001101111001101001110100101111000001111000001111011010101111111110000000000000000000",
	"00000000000000000011001000111001111000111101000100011000100011000010010101000000001000000000000000000",
	"00000000000000000110111101100111000101100001101110110101110110100111110101100000011100000000000000000",
	"00000000000000001100100001011100101101010011001000100101000100111100000101010000110010000000000000000",
	"00000000000000011011110011010011101001011110111101111101101111100010001101011001101111000000000000000",
	"00000000000000110010001110011110001111010000100001000001001000010111011001010111001000100000000000000",
	"00000000000001101111011001110001011000011001110011100011111100110100010111010100111101110000000000000",
	"00000000000011001000010111001011010100110111001110010110000011100110110100010111100001001000000000000",
	"00000000000110111100110100111010010111100100111001110101000110011100100110110100010011111100000000000",
	"00000000001100100011100111100011110100011111100111000101101101110011111100100110111110000010000000000",
	"00000000011011110110011100010110000110110000011100101101001001001110000011111100100001000111000000000",
	"00000000110010000101110010110101001100101000110011101001111111111001000110000011110011101100100000000",
	"00000001101111001101001110100101111011101101101110001111000000000111101101000110001110001011110000000",
	"00000011001000111001111000111101000010001001001001011000100000001100001001101101011001011010001000000",
	"00000110111101100111000101100001100111011111111111010101110000011010011111001001010111010011011100000",
	"00001100100001011100101101010011011100010000000000010101001000110011110000111111010100011110010010000",
	"00011011110011010011101001011110010010111000000000110101111101101110001001100000010110110001111111000",
	"00110010001110011110001111010001111110100100000001100101000001001001011111010000110100101011000000100",
	"01101111011001110001011000011011000000111110000011011101100011111111010000011001100111101010100001110",
	"11001000010111001011010100110010100001100001000110010001010110000000011000110111011100001010110011001",
}

func parseRow(t *testing.T, row string) elca.Generation {
	t.Helper()
	g := make(elca.Generation, len(row))
	for i, c := range row {
		if c == '1' {
			g[i] = 1
		}
	}
	return g
}

func TestRule30Evolution(t *testing.T) {
	c := New()
	if err := c.Init(101); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Dispose()

	for step, row := range rule30Width101 {
		got, err := c.ComputeNext(context.Background(), elca.Rule(30))
		if err != nil {
			t.Fatalf("ComputeNext at step %d: %v", step+1, err)
		}
		want := parseRow(t, row)
		if !got.Equal(want) {
			t.Fatalf("generation %d mismatch:\ngot  %v\nwant %v", step+1, got, want)
		}
	}
}

func TestRule90Symmetry(t *testing.T) {
	// Rule 90 is additive and left/right symmetric, so every generation
	// grown from a centered seed is a palindrome.
	c := New()
	if err := c.Init(63); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Dispose()

	for step := 0; step < 30; step++ {
		g, err := c.ComputeNext(context.Background(), elca.Rule(90))
		if err != nil {
			t.Fatalf("ComputeNext at step %d: %v", step+1, err)
		}
		for i := range g {
			if g[i] != g[len(g)-1-i] {
				t.Fatalf("generation %d not symmetric at index %d", step+1, i)
			}
		}
	}
}

func TestInitInvalidWidth(t *testing.T) {
	c := New()
	for _, width := range []int{0, -1} {
		if err := c.Init(width); !errors.Is(err, elca.ErrInvalidGridSize) {
			t.Errorf("Init(%d) = %v, want ErrInvalidGridSize", width, err)
		}
	}
}

func TestUninitialized(t *testing.T) {
	c := New()
	if _, err := c.ComputeNext(context.Background(), elca.Rule(30)); !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("ComputeNext before Init = %v, want ErrNotInitialized", err)
	}
	if _, err := c.Readback(); !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("Readback before Init = %v, want ErrNotInitialized", err)
	}
	if err := c.Upload(elca.Generation{1}); !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("Upload before Init = %v, want ErrNotInitialized", err)
	}
}

func TestUploadReadback(t *testing.T) {
	c := New()
	if err := c.Init(5); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer c.Dispose()

	seed, err := c.Readback()
	if err != nil {
		t.Fatalf("Readback: %v", err)
	}
	if !seed.Equal(elca.Generation{0, 0, 1, 0, 0}) {
		t.Errorf("initial Readback = %v, want center seed", seed)
	}

	want := elca.Generation{1, 0, 1, 0, 1}
	if err := c.Upload(want); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := c.Readback()
	if err != nil {
		t.Fatalf("Readback: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Readback = %v, want %v", got, want)
	}

	if err := c.Upload(elca.Generation{1, 0}); !errors.Is(err, backend.ErrWidthMismatch) {
		t.Errorf("Upload(width 2) = %v, want ErrWidthMismatch", err)
	}
}

func TestRegistered(t *testing.T) {
	if !backend.Registered(backend.TierCPU) {
		t.Fatal("cpu backend did not register itself")
	}
	b := backend.New(backend.TierCPU)
	if b == nil {
		t.Fatal("backend.New(TierCPU) = nil")
	}
	if b.Name() != "cpu" {
		t.Errorf("Name() = %q, want %q", b.Name(), "cpu")
	}
}
