package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Confirmer answers yes/no questions before the rule store or disk changes.
type Confirmer interface {
	Confirm(question string) bool
}

// Prompter asks on out and reads the answer from in. Anything but y/yes is no.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

func (p *Prompter) Confirm(question string) bool {
	color.New(color.FgYellow, color.Bold).Fprintf(p.out, "%s [y/N]: ", question)
	answer, err := p.in.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(p.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// AutoConfirm answers every question with its own value.
type AutoConfirm bool

func (a AutoConfirm) Confirm(string) bool { return bool(a) }
