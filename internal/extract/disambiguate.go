package extract

import "unicode/utf8"

// InputSpecMaxChars is the length, in characters of the text view, below which
// the second of exactly two blocks is taken to be the input specification.
// Longer second blocks are treated as the output specification.
const InputSpecMaxChars = 100

// Block is one content fragment lifted from a page script, in both views.
type Block struct {
	HTML string
	Text string
}

// Assignment maps content blocks onto the record's semantic fields.
type Assignment struct {
	Description Block
	Input       Block
	Output      Block
}

// Disambiguate assigns blocks by position. Three or more blocks map to
// description, input and output in order (extras are ignored). With exactly
// two, the second is the input spec when it is short and the output spec
// otherwise. A single block is the description.
func Disambiguate(blocks []Block) Assignment {
	var a Assignment
	switch {
	case len(blocks) >= 3:
		a.Description, a.Input, a.Output = blocks[0], blocks[1], blocks[2]
	case len(blocks) == 2:
		a.Description = blocks[0]
		if utf8.RuneCountInString(blocks[1].Text) < InputSpecMaxChars {
			a.Input = blocks[1]
		} else {
			a.Output = blocks[1]
		}
	case len(blocks) == 1:
		a.Description = blocks[0]
	}
	return a
}
