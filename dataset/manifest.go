package dataset

import "github.com/turbot/shardpipe/types"

// manifest is the on-disk layout of a dataset manifest
//
//	{
//	  "classes": {"car": 1, "person": 2},
//	  "splits": {
//	    "train": [{"image_id": "a", "image": "images/a.jpg", "image_height": 480, "image_width": 640,
//	               "objects": [{"label": "car", "box": [10, 20, 100, 200], "ambiguous": false}]}],
//	    "val": [...]
//	  }
//	}
//
// classes is optional - if omitted, ids are assigned from 1 in label order
type manifest struct {
	Classes map[string]int32         `json:"classes,omitempty"`
	Splits  map[string][]imageRecord `json:"splits"`
}

type imageRecord struct {
	Id      string         `json:"image_id"`
	Image   string         `json:"image"`
	Height  int            `json:"image_height"`
	Width   int            `json:"image_width"`
	Objects []objectRecord `json:"objects"`
}

type objectRecord struct {
	Label     string    `json:"label"`
	Box       types.Box `json:"box"`
	Ambiguous bool      `json:"ambiguous,omitempty"`
}
