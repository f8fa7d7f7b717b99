// Package render composes a run's generation history into an image. Each
// generation occupies one pixel row, newest at the bottom, so a full run
// reads as the familiar triangle growing downward. Live cells fade with
// age: the newest row carries the full live color and older rows are
// pulled toward the dead color along a fixed ramp.
package render

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/gridpulse/elca"
)

// maxFade is the fraction of the distance toward the dead color the oldest
// row is pulled. The oldest row stays visible; it never reaches the dead
// color.
const maxFade = 0.75

// Renderer turns generation history into an RGBA image. The zero colors
// are white cells on a black field; hosts can override both.
type Renderer struct {
	width int
	rows  int

	alive color.RGBA
	dead  color.RGBA

	// ramp holds the live color per row age, index 0 being the newest.
	ramp []color.RGBA

	img *image.RGBA
}

// New returns a renderer for a grid of the given width showing rows
// generations of history.
func New(width, rows int) *Renderer {
	r := &Renderer{
		width: width,
		rows:  rows,
		alive: color.RGBA{R: 255, G: 255, B: 255, A: 255},
		dead:  color.RGBA{A: 255},
		img:   image.NewRGBA(image.Rect(0, 0, width, rows)),
	}
	r.rebuildRamp()
	return r
}

// SetColors overrides the live and dead cell colors and recomputes the
// fade ramp between them.
func (r *Renderer) SetColors(alive, dead color.RGBA) {
	r.alive = alive
	r.dead = dead
	r.rebuildRamp()
}

func (r *Renderer) rebuildRamp() {
	r.ramp = make([]color.RGBA, r.rows)
	for age := range r.ramp {
		var f float64
		if r.rows > 1 {
			f = maxFade * float64(age) / float64(r.rows-1)
		}
		r.ramp[age] = lerpRGBA(r.alive, r.dead, f)
	}
}

// lerpRGBA blends from toward to by t in [0,1], per channel.
func lerpRGBA(from, to color.RGBA, t float64) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
	}
	return color.RGBA{
		R: mix(from.R, to.R),
		G: mix(from.G, to.G),
		B: mix(from.B, to.B),
		A: mix(from.A, to.A),
	}
}

// Compose renders the history into the backing image and returns it. Rows
// beyond the history are filled with the dead color, so a run that has not
// finished yet shows a partial triangle. Live cells take their row's ramp
// color by age relative to the newest generation. The returned image is
// reused across calls.
func (r *Renderer) Compose(history []elca.Generation) *image.RGBA {
	n := len(history)
	for y := 0; y < r.rows; y++ {
		if y < n {
			age := n - 1 - y
			if age >= len(r.ramp) {
				age = len(r.ramp) - 1
			}
			r.fillRow(y, history[y], r.ramp[age])
		} else {
			r.clearRow(y)
		}
	}
	return r.img
}

func (r *Renderer) fillRow(y int, gen elca.Generation, live color.RGBA) {
	base := y * r.img.Stride
	for x := 0; x < r.width; x++ {
		c := r.dead
		if x < len(gen) && gen[x] != 0 {
			c = live
		}
		i := base + x*4
		r.img.Pix[i+0] = c.R
		r.img.Pix[i+1] = c.G
		r.img.Pix[i+2] = c.B
		r.img.Pix[i+3] = c.A
	}
}

func (r *Renderer) clearRow(y int) {
	base := y * r.img.Stride
	for x := 0; x < r.width; x++ {
		i := base + x*4
		r.img.Pix[i+0] = r.dead.R
		r.img.Pix[i+1] = r.dead.G
		r.img.Pix[i+2] = r.dead.B
		r.img.Pix[i+3] = r.dead.A
	}
}

// Scale enlarges src by an integer factor with nearest-neighbor sampling,
// keeping the cell edges crisp. A factor of 1 or less returns src.
func Scale(src *image.RGBA, factor int) *image.RGBA {
	if factor <= 1 {
		return src
	}
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx()*factor, bounds.Dy()*factor))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}
