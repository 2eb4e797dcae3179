package platform

import (
	"image"
	"image/color"
)

// cursorShape is a 12x19 arrow: '#' outline, '.' fill.
var cursorShape = []string{
	"#",
	"##",
	"#.#",
	"#..#",
	"#...#",
	"#....#",
	"#.....#",
	"#......#",
	"#.......#",
	"#........#",
	"#.........#",
	"#..........#",
	"#......#####",
	"#...#..#",
	"#..##..#",
	"#.#  #..#",
	"##   #..#",
	"#     #..#",
	"      ####",
}

var (
	cursorOutline = color.RGBA{A: 0xFF}
	cursorFill    = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
)

// drawCursor paints the arrow with its hotspot at (x, y), relative to the
// image origin. Pixels outside the image are skipped.
func drawCursor(img *image.RGBA, x, y int) {
	origin := img.Bounds().Min
	for dy, row := range cursorShape {
		for dx, c := range row {
			var col color.RGBA
			switch c {
			case '#':
				col = cursorOutline
			case '.':
				col = cursorFill
			default:
				continue
			}
			p := image.Pt(origin.X+x+dx, origin.Y+y+dy)
			if p.In(img.Rect) {
				img.SetRGBA(p.X, p.Y, col)
			}
		}
	}
}
