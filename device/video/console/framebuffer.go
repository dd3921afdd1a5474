// Package console implements the system console device used for kernel
// logging. Framebuffer console rendering and its ANSI parsing are explicitly
// out of scope as user-facing features; what remains here is the minimal
// pixel-cell writer that kfmt's output sink needs during early boot, built
// directly against the Limine framebuffer descriptor instead of the VESA/VGA
// probing the boot-protocol shim used to require.
package console

import (
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"image/color"
	"reflect"
	"unsafe"
)

// Info describes the framebuffer handed to the kernel by the boot loader: its
// address, pixel
// geometry and bits-per-pixel. Address is expected to already be
// expressed as an HHDM virtual address (mem.DirectMap applied) by the caller
// that constructs the Framebuffer.
type Info struct {
	Address uintptr
	Width   uint32
	Height  uint32
	Pitch   uint32
	Bpp     uint8
}

// Framebuffer is a console.Device backed directly by a linear RGB
// framebuffer, using a fixed 7x13 bitmap font (golang.org/x/image's
// basicfont) for glyph rendering. Only 32 bits-per-pixel framebuffers are
// supported, which covers every mode a Limine GOP/UEFI handoff reports in
// practice.
type Framebuffer struct {
	fb     []uint8
	pitch  uint32
	width  uint32
	height uint32

	glyphWidth  uint32
	glyphHeight uint32
	widthChars  uint32
	heightChars uint32

	palette   color.Palette
	defaultFg uint8
	defaultBg uint8
}

// defaultPalette mirrors the classic 16-color VGA palette so that existing
// fg/bg color index conventions keep working on a pure-framebuffer console.
var defaultPalette = color.Palette{
	color.RGBA{0x00, 0x00, 0x00, 0xff},
	color.RGBA{0x00, 0x00, 0xaa, 0xff},
	color.RGBA{0x00, 0xaa, 0x00, 0xff},
	color.RGBA{0x00, 0xaa, 0xaa, 0xff},
	color.RGBA{0xaa, 0x00, 0x00, 0xff},
	color.RGBA{0xaa, 0x00, 0xaa, 0xff},
	color.RGBA{0xaa, 0x55, 0x00, 0xff},
	color.RGBA{0xaa, 0xaa, 0xaa, 0xff},
	color.RGBA{0x55, 0x55, 0x55, 0xff},
	color.RGBA{0x55, 0x55, 0xff, 0xff},
	color.RGBA{0x55, 0xff, 0x55, 0xff},
	color.RGBA{0x55, 0xff, 0xff, 0xff},
	color.RGBA{0xff, 0x55, 0x55, 0xff},
	color.RGBA{0xff, 0x55, 0xff, 0xff},
	color.RGBA{0xff, 0xff, 0x55, 0xff},
	color.RGBA{0xff, 0xff, 0xff, 0xff},
}

// NewFramebuffer builds a Framebuffer console over the pixel memory
// described by info. info.Address must already be a reachable virtual
// address (HHDM-mapped); unlike the boot-protocol shim's old VESA driver,
// no vmm mapping is established here because Limine already maps the
// framebuffer for the kernel before handoff.
func NewFramebuffer(info Info) *Framebuffer {
	fbLen := int(info.Pitch) * int(info.Height)

	var fb []uint8
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&fb))
	hdr.Data = info.Address
	hdr.Len = fbLen
	hdr.Cap = fbLen

	glyphW, glyphH := uint32(basicfont.Face7x13.Width), uint32(basicfont.Face7x13.Height)

	return &Framebuffer{
		fb:          fb,
		pitch:       info.Pitch,
		width:       info.Width,
		height:      info.Height,
		glyphWidth:  glyphW,
		glyphHeight: glyphH,
		widthChars:  info.Width / glyphW,
		heightChars: info.Height / glyphH,
		palette:     defaultPalette,
		defaultFg:   15,
		defaultBg:   0,
	}
}

// Dimensions returns the console's width/height expressed in the requested
// units.
func (c *Framebuffer) Dimensions(which Dimension) (uint32, uint32) {
	if which == Pixels {
		return c.width, c.height
	}
	return c.widthChars, c.heightChars
}

// DefaultColors returns the palette indices used for new content.
func (c *Framebuffer) DefaultColors() (fg, bg uint8) {
	return c.defaultFg, c.defaultBg
}

// Palette returns the console's active palette.
func (c *Framebuffer) Palette() color.Palette {
	return c.palette
}

// SetPaletteColor updates a single palette entry.
func (c *Framebuffer) SetPaletteColor(index uint8, rgba color.RGBA) {
	if int(index) >= len(c.palette) {
		return
	}
	c.palette[index] = rgba
}

// putPixel writes a single pixel at (px, py) using the 32bpp BGRX layout
// Limine reports for its GOP framebuffers.
func (c *Framebuffer) putPixel(px, py uint32, col color.RGBA) {
	if px >= c.width || py >= c.height {
		return
	}
	off := py*c.pitch + px*4
	c.fb[off+0] = col.B
	c.fb[off+1] = col.G
	c.fb[off+2] = col.R
	c.fb[off+3] = 0
}

// Fill paints a rectangular, character-cell-addressed region with bg and
// clears it of glyphs (x, y are 1-based).
func (c *Framebuffer) Fill(x, y, width, height uint32, fg, bg uint8) {
	bgCol := c.rgba(bg)
	startPx, startPy := (x-1)*c.glyphWidth, (y-1)*c.glyphHeight
	for row := uint32(0); row < height*c.glyphHeight; row++ {
		for col := uint32(0); col < width*c.glyphWidth; col++ {
			c.putPixel(startPx+col, startPy+row, bgCol)
		}
	}
	_ = fg
}

// Scroll shifts the framebuffer contents by lines character rows in the
// requested direction using a raw memmove over the pixel buffer.
func (c *Framebuffer) Scroll(dir ScrollDir, lines uint32) {
	rowBytes := int(c.pitch) * int(c.glyphHeight) * int(lines)
	if rowBytes <= 0 || rowBytes >= len(c.fb) {
		return
	}

	switch dir {
	case ScrollDirUp:
		copy(c.fb[0:len(c.fb)-rowBytes], c.fb[rowBytes:])
	case ScrollDirDown:
		copy(c.fb[rowBytes:], c.fb[0:len(c.fb)-rowBytes])
	}
}

// Write draws ch at character cell (x, y) using fg/bg palette indices.
func (c *Framebuffer) Write(ch byte, fg, bg uint8, x, y uint32) {
	fgCol, bgCol := c.rgba(fg), c.rgba(bg)
	startPx, startPy := (x-1)*c.glyphWidth, (y-1)*c.glyphHeight

	dr, mask, maskp, _ := basicfont.Face7x13.Glyph(fixed.Point26_6{}, rune(ch))
	for py := 0; py < dr.Dy(); py++ {
		for px := 0; px < dr.Dx(); px++ {
			_, _, _, a := mask.At(maskp.X+px, maskp.Y+py).RGBA()
			col := bgCol
			if a != 0 {
				col = fgCol
			}
			c.putPixel(startPx+uint32(px), startPy+uint32(py), col)
		}
	}
}

// rgba resolves a palette index into the color it currently maps to.
func (c *Framebuffer) rgba(index uint8) color.RGBA {
	if int(index) >= len(c.palette) {
		return color.RGBA{}
	}
	r, g, b, a := c.palette[index].RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

var _ font.Face = basicfont.Face7x13
