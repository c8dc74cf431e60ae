// Package gocvdetector runs an SSD-style network in-process through OpenCV's
// DNN module.
//
// The OpenCV-backed implementation is compiled only with the "gocv" build
// tag. Default builds get a stub whose constructor reports that support is
// missing, so the rest of sift never needs cgo.
//
// The network is expected to emit rows of [image_id, class_id, confidence,
// x1, y1, x2, y2] with coordinates normalized to [0,1] and class ids in the
// 91-slot COCO numbering used by TensorFlow object detection models. Ids are
// remapped to the contiguous 80-class numbering the class tables use.
package gocvdetector

import "time"

// Options configures model loading.
type Options struct {
	ModelPath  string
	ConfigPath string
	InputSize  int
	Timeout    time.Duration
}

// cocoGaps lists the 91-slot ids that have no class.
var cocoGaps = map[int]bool{12: true, 26: true, 29: true, 30: true, 45: true, 66: true, 68: true, 69: true, 71: true, 83: true}

// contiguousClass maps a 91-slot COCO id (1-based, with gaps) to the
// contiguous 0-based index, or -1 for background and gap ids.
func contiguousClass(id int) int {
	if id < 1 || id > 90 || cocoGaps[id] {
		return -1
	}
	index := id - 1
	for gap := range cocoGaps {
		if gap < id {
			index--
		}
	}
	return index
}
