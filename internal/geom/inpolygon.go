// Package geom provides the point-in-polygon test used for operating
// envelope gating: measurement ticks outside the configured envelope are
// skipped rather than fed to the estimator.
package geom

// InPolygon reports whether the point (x, y) lies inside the polygon with
// vertices (px[i], py[i]). The polygon is implicitly closed from the last
// vertex back to the first. Points exactly on an edge may land on either
// side. Mismatched or empty vertex slices report false.
func InPolygon(x, y float32, px, py []float32) bool {
	p := len(px)
	if p == 0 || len(py) != p {
		return false
	}

	maxX, minX := px[0], px[0]
	maxY, minY := py[0], py[0]
	for i := 0; i < p; i++ {
		maxX = max(px[i], maxX)
		minX = min(px[i], minX)
		maxY = max(py[i], maxY)
		minY = min(py[i], minY)
	}
	if y < minY || y > maxY || x < minX || x > maxX {
		return false
	}

	// Ray cast parallel to the y-axis: toggle for every edge whose x-span
	// straddles x and whose interpolated y lies above the point.
	ok := false
	for i, j := 0, p-1; i < p; j, i = i, i+1 {
		if (px[i] > x) != (px[j] > x) &&
			y < (py[j]-py[i])*(x-px[i])/(px[j]-px[i])+py[i] {
			ok = !ok
		}
	}
	return ok
}
