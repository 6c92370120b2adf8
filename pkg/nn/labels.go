package nn

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Return the class name of the detection, or "" if the class index is out of range
func (o *ObjectDetection) ClassName(classes []string) string {
	if o.Class < 0 || o.Class >= len(classes) {
		return ""
	}
	return classes[o.Class]
}
