// The desktop front-end assembles (or loads) a FlipJump program, runs it
// chunked inside the render loop, and draws the low memory as a live bit
// raster with the program's output below it.
package main

import (
	"bytes"
	"image/color"
	"log"
	"os"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text"
	"golang.org/x/image/font/basicfont"

	"github.com/Mr-Bossman/flip-jump/pkg/asm"
	"github.com/Mr-Bossman/flip-jump/pkg/fjm"
	"github.com/Mr-Bossman/flip-jump/pkg/utils"
	"github.com/Mr-Bossman/flip-jump/pkg/vm"
)

const (
	rasterSize   = 256                     // pixels per side; one bit per pixel
	rasterBits   = rasterSize * rasterSize // the first 64 Kbit of memory
	textRows     = 6
	rowHeight    = 13
	opsPerFrame  = 20000
	screenHeight = rasterSize + textRows*rowHeight + 4
)

type Game struct {
	machine   *vm.VM
	output    bytes.Buffer
	rasterImg *ebiten.Image // reused bit-raster canvas
	pixels    []byte
}

func (g *Game) Update() error {
	// Run at a fixed maximum clock speed; break early when the program
	// reaches its final self-loop.
	for i := 0; i < opsPerFrame; i++ {
		if g.machine.Halted {
			break
		}
		g.machine.Step()
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	if g.rasterImg == nil {
		g.rasterImg = ebiten.NewImage(rasterSize, rasterSize)
		g.pixels = make([]byte, rasterBits*4)
	}

	for bit := uint64(0); bit < rasterBits; bit++ {
		v := byte(0x10)
		if g.machine.Mem.GetBit(bit) != 0 {
			v = 0xFF
		}
		i := bit * 4
		g.pixels[i+0] = v
		g.pixels[i+1] = v
		g.pixels[i+2] = v
		g.pixels[i+3] = 0xFF
	}
	g.rasterImg.WritePixels(g.pixels)
	screen.DrawImage(g.rasterImg, nil)

	lines := strings.Split(g.output.String(), "\n")
	if len(lines) > textRows {
		lines = lines[len(lines)-textRows:]
	}
	face := basicfont.Face7x13
	for i, line := range lines {
		y := rasterSize + (i+1)*rowHeight
		text.Draw(screen, line, face, 2, y, color.White)
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return rasterSize, screenHeight
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: desktop <program.fj | image.fjm>")
	}
	filename := os.Args[1]

	fullPath, _, err := utils.GetPathInfo(filename)
	if err != nil {
		log.Fatalf("bad path %q: %v", filename, err)
	}

	var img *fjm.Image
	if utils.IsImagePath(fullPath) {
		img, err = fjm.Load(fullPath)
		if err != nil {
			log.Fatalf("failed to load image: %v", err)
		}
	} else {
		files := append(asm.PreludeFiles(), asm.SourceFile{Path: fullPath})
		res, err := asm.AssembleFiles(files, asm.Options{W: 64})
		if err != nil {
			log.Fatalf("assembly failed: %v", err)
		}
		img = res.Image
	}

	machine, err := vm.NewFromImage(img)
	if err != nil {
		log.Fatalf("failed to load image: %v", err)
	}
	machine.Input = os.Stdin

	game := &Game{machine: machine}
	machine.Output = &game.output

	ebiten.SetWindowSize(2*rasterSize, 2*screenHeight)
	ebiten.SetWindowTitle("FlipJump Desktop")
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}
