package model

import (
		"strings"
)

// LabelSet names a dataset label map. Index 0 is always the background class, so the
// length of a set is the class count of a head trained on it.
type LabelSet string

const (
	// LabelSetVOC is Pascal VOC: 20 classes plus background.
	LabelSetVOC LabelSet = "voc"
	// LabelSetCOCO is COCO: 80 classes plus background.
	LabelSetCOCO LabelSet = "coco"
)

var labelSets = map[LabelSet][]string{
	LabelSetVOC: {
		"__background__", "aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car",
		"cat", "chair", "cow", "diningtable", "dog", "horse", "motorbike", "person",
		"pottedplant", "sheep", "sofa", "train", "tvmonitor",
	},
	LabelSetCOCO: {
		"__background__", "person", "bicycle", "car", "motorcycle", "airplane", "bus",
		"train", "truck", "boat", "traffic light", "fire hydrant", "stop sign",
		"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow", "elephant",
		"bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase",
		"frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat",
		"baseball glove", "skateboard", "surfboard", "tennis racket", "bottle", "wine glass",
		"cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
		"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
		"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
		"keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
		"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
	},
}

// ParseLabelSet resolves a label set name case-insensitively.
func ParseLabelSet(s string) (LabelSet, error) {
	ls := LabelSet(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := labelSets[ls]; !ok {
		return "", Configurationf("unknown label set %q (want voc or coco)", s)
	}
	return ls, nil
}

// Len returns the number of classes in the set, background included.
func (ls LabelSet) Len() int { return len(labelSets[ls]) }

// Name returns the label at index, or "" when the index is out of range.
func (ls LabelSet) Name(index int) string {
	names := labelSets[ls]
	if index < 0 || index >= len(names) {
		return ""
	}
	return names[index]
}

// Index returns the index of a label, or -1 when the set does not contain it.
func (ls LabelSet) Index(name string) int {
	for i, n := range labelSets[ls] {
		if n == name {
			return i
		}
	}
	return -1
}
