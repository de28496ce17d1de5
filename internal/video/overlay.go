package video

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/banshee-data/sightline/internal/vision"
)

// Zone tint colours, BGR order as OpenCV expects.
var zoneColors = map[vision.Zone]color.RGBA{
	vision.ZoneLeft:   {R: 200, G: 70, B: 70, A: 255},
	vision.ZoneCenter: {R: 70, G: 200, B: 70, A: 255},
	vision.ZoneRight:  {R: 70, G: 70, B: 200, A: 255},
}

var boundaryColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// DrawOverlay annotates a frame in place with zone boundaries and one
// labelled box per active track. No-op for frames without an image.
func DrawOverlay(f *Frame, snaps []vision.TrackSnapshot) {
	if !f.HasImage() {
		return
	}
	mat := f.Image()

	// Zone separators at W/3 and 2W/3.
	x1 := f.Width / 3
	x2 := 2 * f.Width / 3
	gocv.Line(&mat, image.Pt(x1, 0), image.Pt(x1, f.Height), boundaryColor, 1)
	gocv.Line(&mat, image.Pt(x2, 0), image.Pt(x2, f.Height), boundaryColor, 1)

	for _, s := range snaps {
		if s.State != vision.TrackActive {
			continue
		}
		col, ok := zoneColors[s.Zone]
		if !ok {
			col = boundaryColor
		}
		rect := image.Rect(s.Box.X, s.Box.Y, s.Box.X+s.Box.W, s.Box.Y+s.Box.H)
		gocv.Rectangle(&mat, rect, col, 2)

		caption := fmt.Sprintf("%s #%d %.0f%% %s", s.Label, s.ID, s.Confidence*100, s.Zone)
		origin := image.Pt(s.Box.X, s.Box.Y-6)
		if origin.Y < 12 {
			origin.Y = s.Box.Y + s.Box.H + 14
		}
		gocv.PutText(&mat, caption, origin, gocv.FontHersheySimplex, 0.5, col, 1)
	}
}
