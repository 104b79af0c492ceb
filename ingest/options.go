package ingest

// DriverOption configures a [Driver]
type DriverOption func(*Driver)

// WithResizeMaxSide resizes images whose longest side exceeds maxSide, preserving aspect ratio
// a value of 0 disables resizing
func WithResizeMaxSide(maxSide int) DriverOption {
	return func(d *Driver) {
		d.resizeMaxSide = maxSide
	}
}

// WithCheckBadImages fully decodes every image, skipping entries which fail to decode
func WithCheckBadImages(check bool) DriverOption {
	return func(d *Driver) {
		d.checkBadImages = check
	}
}

// WithRescaleBoxes scales pixel-unit box coordinates by the resize factor when an image is resized
// by default boxes are written unchanged
func WithRescaleBoxes(rescale bool) DriverOption {
	return func(d *Driver) {
		d.rescaleBoxes = rescale
	}
}

// WithJPEGQuality sets the quality used when re-encoding resized jpeg images
func WithJPEGQuality(quality int) DriverOption {
	return func(d *Driver) {
		d.jpegQuality = quality
	}
}
