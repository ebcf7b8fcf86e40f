package gcode

import (
	"errors"
	"strings"
)

// Block is one line of G-code.
type Block []Word

// Rapid is an absolute rapid move of the given axes.
//
//	Rapid(Word{'X', 10}, Word{'Y', -5}) // G90 G0 X10 Y-5
func Rapid(axes ...Word) Block {
	b := make(Block, 0, len(axes)+2)
	b = append(b, Word{W: 'G', Arg: 90}, Word{W: 'G', Arg: 0})
	return append(b, axes...)
}

// Dwell pauses for sec seconds. Grbl only acknowledges a dwell once the
// planner buffer has drained, so `G4 P0` doubles as a motion barrier.
func Dwell(sec float64) Block {
	return Block{{W: 'G', Arg: 4}, {W: 'P', Arg: sec}}
}

func (b Block) String() string {
	parts := make([]string, len(b))
	for i, w := range b {
		parts[i] = w.String()
	}
	return strings.Join(parts, " ")
}

func (b Block) Validate() error {
	if len(b) == 0 {
		return errors.New("empty block")
	}
	var checkWord [256]bool
	var checkModal [256]bool

	for _, g := range b {
		if !g.IsValid() {
			return errors.New("invalid word in block")
		}
		if g.W != 'G' && g.W != 'M' && checkWord[g.W] {
			return errors.New("word was repeated in a block")
		}
		checkWord[g.W] = true
		m := g.ModalGroup()
		if m != ModalGroupNone && checkModal[m] {
			return errors.New("multiple words from same modal group")
		}
		checkModal[m] = true
	}

	return nil
}
