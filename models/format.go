package models

import "strings"

// Format is the output video shape requested at submission.
type Format string

const (
	FormatVertical   Format = "vertical"
	FormatHorizontal Format = "horizontal"
	FormatSquare     Format = "square"
	FormatPortrait   Format = "portrait"
)

// FormatSpec is what both the image and render stages derive from a Format.
type FormatSpec struct {
	AspectRatio string
	Width       int
	Height      int
}

var formatTable = map[Format]FormatSpec{
	FormatVertical:   {AspectRatio: "9:16", Width: 1080, Height: 1920},
	FormatHorizontal: {AspectRatio: "16:9", Width: 1920, Height: 1080},
	FormatSquare:     {AspectRatio: "1:1", Width: 1080, Height: 1080},
	FormatPortrait:   {AspectRatio: "4:5", Width: 1080, Height: 1350},
}

// Formats lists the supported formats in a stable order.
func Formats() []Format {
	return []Format{FormatVertical, FormatHorizontal, FormatSquare, FormatPortrait}
}

func (f Format) Valid() bool {
	_, ok := formatTable[f]
	return ok
}

// Spec returns the table entry for f, falling back to vertical.
func (f Format) Spec() FormatSpec {
	if spec, ok := formatTable[Format(strings.ToLower(string(f)))]; ok {
		return spec
	}
	return formatTable[FormatVertical]
}
