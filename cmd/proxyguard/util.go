package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

// Polkadot balances have 10 decimal places.
const (
	balanceDecimals = 10
	balanceUnit     = "DOT"
)

// formatBalance renders a planck amount in whole units.
func formatBalance(planck decimal.Decimal) string {
	return planck.Shift(-balanceDecimals).StringFixed(4) + " " + balanceUnit
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// pauser stops between demo phases until the operator presses enter.
type pauser struct {
	skip bool
	in   *bufio.Reader
	out  io.Writer
}

// newPauser returns a pauser that never blocks when yes is set or stdin is
// not a terminal.
func newPauser(yes bool) *pauser {
	return &pauser{
		skip: yes || !term.IsTerminal(int(os.Stdin.Fd())),
		in:   bufio.NewReader(os.Stdin),
		out:  os.Stdout,
	}
}

func (p *pauser) wait() {
	if p.skip {
		return
	}
	fmt.Fprint(p.out, "Press enter to continue:\n")
	p.in.ReadString('\n')
}

func separator() {
	fmt.Println(strings.Repeat("-", 32))
}
