package zone

import (
	"fmt"
	"image"
	"math"
)

// Homography is a 3x3 planar projective transform, row-major.
type Homography [9]float64

// Identity returns the no-op transform.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps a point through the transform.
func (h Homography) Apply(x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	if math.Abs(w) < 1e-12 {
		return x, y
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}

type point struct{ x, y int }

type match struct {
	sx, sy float64 // source (reference)
	dx, dy float64 // destination (current)
}

// detectCorners picks the strongest gradient response per cell of a coarse
// grid. Cheap stand-in for a full corner detector: the matcher only needs
// well-spread, textured patches.
func detectCorners(g *image.Gray, gridX, gridY, margin int) []point {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	cellW, cellH := w/gridX, h/gridY
	var pts []point

	for cy := 0; cy < gridY; cy++ {
		for cx := 0; cx < gridX; cx++ {
			bestScore := 0
			best := point{-1, -1}
			x0, y0 := cx*cellW, cy*cellH
			x1, y1 := x0+cellW, y0+cellH
			for y := max(y0, margin); y < min(y1, h-margin); y += 2 {
				for x := max(x0, margin); x < min(x1, w-margin); x += 2 {
					gx := int(g.Pix[y*g.Stride+x+1]) - int(g.Pix[y*g.Stride+x-1])
					gy := int(g.Pix[(y+1)*g.Stride+x]) - int(g.Pix[(y-1)*g.Stride+x])
					score := gx*gx + gy*gy
					if score > bestScore {
						bestScore = score
						best = point{x, y}
					}
				}
			}
			// Flat cells (sky, walls) contribute nothing to the fit.
			if bestScore > 400 && best.x >= 0 {
				pts = append(pts, best)
			}
		}
	}
	return pts
}

// matchCorners block-matches each reference corner into the current frame
// by SSD over a local search window. Matches with a weak best score or an
// ambiguous second-best are discarded.
func matchCorners(ref, cur *image.Gray, pts []point, win, search int) []match {
	w, h := cur.Bounds().Dx(), cur.Bounds().Dy()
	var out []match

	for _, p := range pts {
		bestSSD, secondSSD := math.MaxInt, math.MaxInt
		bestX, bestY := -1, -1

		for dy := -search; dy <= search; dy += 2 {
			for dx := -search; dx <= search; dx += 2 {
				qx, qy := p.x+dx, p.y+dy
				if qx < win || qy < win || qx >= w-win || qy >= h-win {
					continue
				}
				ssd := blockSSD(ref, cur, p.x, p.y, qx, qy, win, bestSSD)
				if ssd < bestSSD {
					secondSSD = bestSSD
					bestSSD = ssd
					bestX, bestY = qx, qy
				} else if ssd < secondSSD {
					secondSSD = ssd
				}
			}
		}

		if bestX < 0 {
			continue
		}
		// Ambiguity check: the best must clearly beat the runner-up.
		if secondSSD != math.MaxInt && float64(bestSSD) > 0.8*float64(secondSSD) {
			continue
		}
		area := float64((2*win + 1) * (2*win + 1))
		if float64(bestSSD)/area > 900 { // mean per-pixel error > 30 levels
			continue
		}
		out = append(out, match{
			sx: float64(p.x), sy: float64(p.y),
			dx: float64(bestX), dy: float64(bestY),
		})
	}
	return out
}

func blockSSD(a, b *image.Gray, ax, ay, bx, by, win, cutoff int) int {
	sum := 0
	for dy := -win; dy <= win; dy++ {
		ra := (ay + dy) * a.Stride
		rb := (by + dy) * b.Stride
		for dx := -win; dx <= win; dx++ {
			d := int(a.Pix[ra+ax+dx]) - int(b.Pix[rb+bx+dx])
			sum += d * d
		}
		if sum > cutoff {
			return sum
		}
	}
	return sum
}

// estimateHomography fits H (h33=1) to the matches by least squares, then
// refits once with gross outliers removed. Needs at least 8 matches so the
// fit is overdetermined enough to reject noise.
func estimateHomography(matches []match) (Homography, error) {
	if len(matches) < 8 {
		return Identity(), fmt.Errorf("too few correspondences: %d", len(matches))
	}

	h, err := fitHomography(matches)
	if err != nil {
		return Identity(), err
	}

	// One rejection pass: drop matches whose reprojection error exceeds
	// 3x the median, refit on the survivors.
	errs := make([]float64, len(matches))
	for i, m := range matches {
		px, py := h.Apply(m.sx, m.sy)
		errs[i] = math.Hypot(px-m.dx, py-m.dy)
	}
	med := median(errs)
	thresh := 3*med + 1.0
	var kept []match
	for i, m := range matches {
		if errs[i] <= thresh {
			kept = append(kept, m)
		}
	}
	if len(kept) >= 8 && len(kept) < len(matches) {
		if refit, err := fitHomography(kept); err == nil {
			return refit, nil
		}
	}
	return h, nil
}

// fitHomography solves the 8-parameter DLT system via normal equations.
func fitHomography(matches []match) (Homography, error) {
	// Normalize coordinates for conditioning.
	sN, sD := normalizer(matches, true), normalizer(matches, false)

	var ata [8][8]float64
	var atb [8]float64

	for _, m := range matches {
		sx, sy := sN.apply(m.sx, m.sy)
		dx, dy := sD.apply(m.dx, m.dy)

		// Two rows per match for the h33=1 parameterization.
		rows := [2][9]float64{
			{sx, sy, 1, 0, 0, 0, -dx * sx, -dx * sy, dx},
			{0, 0, 0, sx, sy, 1, -dy * sx, -dy * sy, dy},
		}
		for _, r := range rows {
			for i := 0; i < 8; i++ {
				for j := 0; j < 8; j++ {
					ata[i][j] += r[i] * r[j]
				}
				atb[i] += r[i] * r[8]
			}
		}
	}

	x, err := solve8(ata, atb)
	if err != nil {
		return Identity(), err
	}

	hn := Homography{x[0], x[1], x[2], x[3], x[4], x[5], x[6], x[7], 1}
	// Denormalize: H = inv(Td) * Hn * Ts
	return sD.inverse().compose(hn.compose(sN.matrix())), nil
}

type normTransform struct {
	sx, sy, tx, ty float64
}

func normalizer(matches []match, source bool) normTransform {
	var mx, my float64
	for _, m := range matches {
		if source {
			mx += m.sx
			my += m.sy
		} else {
			mx += m.dx
			my += m.dy
		}
	}
	n := float64(len(matches))
	mx /= n
	my /= n

	var dist float64
	for _, m := range matches {
		if source {
			dist += math.Hypot(m.sx-mx, m.sy-my)
		} else {
			dist += math.Hypot(m.dx-mx, m.dy-my)
		}
	}
	dist /= n
	if dist < 1e-9 {
		dist = 1
	}
	s := math.Sqrt2 / dist
	return normTransform{sx: s, sy: s, tx: -s * mx, ty: -s * my}
}

func (t normTransform) apply(x, y float64) (float64, float64) {
	return t.sx*x + t.tx, t.sy*y + t.ty
}

func (t normTransform) matrix() Homography {
	return Homography{t.sx, 0, t.tx, 0, t.sy, t.ty, 0, 0, 1}
}

func (t normTransform) inverse() Homography {
	return Homography{1 / t.sx, 0, -t.tx / t.sx, 0, 1 / t.sy, -t.ty / t.sy, 0, 0, 1}
}

// compose returns h ∘ g (apply g first, then h).
func (h Homography) compose(g Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			sum := 0.0
			for k := 0; k < 3; k++ {
				sum += h[r*3+k] * g[k*3+c]
			}
			out[r*3+c] = sum
		}
	}
	// Keep h33 at 1 while it is safely nonzero.
	if math.Abs(out[8]) > 1e-12 {
		for i := range out {
			out[i] /= out[8]
		}
	}
	return out
}

// solve8 is Gaussian elimination with partial pivoting on the 8x8 normal
// equations.
func solve8(a [8][8]float64, b [8]float64) ([8]float64, error) {
	var x [8]float64
	for col := 0; col < 8; col++ {
		// Pivot
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return x, fmt.Errorf("singular system")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < 8; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < 8; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}
	for r := 7; r >= 0; r-- {
		sum := b[r]
		for c := r + 1; c < 8; c++ {
			sum -= a[r][c] * x[c]
		}
		x[r] = sum / a[r][r]
	}
	return x, nil
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	tmp := append([]float64(nil), v...)
	// Insertion sort; n is small (corner-grid sized).
	for i := 1; i < len(tmp); i++ {
		for j := i; j > 0 && tmp[j] < tmp[j-1]; j-- {
			tmp[j], tmp[j-1] = tmp[j-1], tmp[j]
		}
	}
	return tmp[len(tmp)/2]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
