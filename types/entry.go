package types

// Entry is one raw dataset entry, as produced by a dataset parser
// Either Image or ImagePath must be set - if Image is empty, the image is read from ImagePath
type Entry struct {
	Id        string  `json:"image_id"`
	ImagePath string  `json:"image"`
	Image     []byte  `json:"-"`
	Height    int     `json:"image_height"`
	Width     int     `json:"image_width"`
	Boxes     []Box   `json:"boxes"`
	Classes   []int32 `json:"classes"`
}
