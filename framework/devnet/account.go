package devnet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/cosmos/cosmos-sdk/types/bech32"
)

// Account is a generated test account. Index 0 is the validator.
type Account struct {
	Index    int    `json:"-"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Mnemonic string `json:"mnemonic"`
}

// IsValidator reports whether the account is the genesis validator.
func (a Account) IsValidator() bool {
	return a.Index == 0
}

// AccountSet is the ordered list of accounts of a project.
type AccountSet []Account

// Validator returns the validator account, if any.
func (s AccountSet) Validator() (Account, bool) {
	if len(s) == 0 {
		return Account{}, false
	}
	return s[0], true
}

// keyOutput is what `keys add --output json` prints.
type keyOutput struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Address  string `json:"address"`
	PubKey   string `json:"pubkey"`
	Mnemonic string `json:"mnemonic"`
}

// parseKeyOutput turns the JSON emitted for key index into an Account.
func parseKeyOutput(index int, out []byte) (Account, error) {
	out = bytes.TrimSpace(out)
	// some binaries print notices before the JSON document.
	if i := bytes.IndexByte(out, '{'); i > 0 {
		out = out[i:]
	}

	var key keyOutput
	if err := json.Unmarshal(out, &key); err != nil {
		return Account{}, fmt.Errorf("decoding key %d: %w", index, err)
	}

	if key.Name != strconv.Itoa(index) {
		return Account{}, fmt.Errorf("key %d: unexpected key name %q", index, key.Name)
	}
	if _, _, err := bech32.DecodeAndConvert(key.Address); err != nil {
		return Account{}, fmt.Errorf("key %d: invalid address %q: %w", index, key.Address, err)
	}
	if strings.TrimSpace(key.Mnemonic) == "" {
		return Account{}, fmt.Errorf("key %d: empty mnemonic", index)
	}

	return Account{
		Index:    index,
		Name:     key.Name,
		Address:  key.Address,
		Mnemonic: key.Mnemonic,
	}, nil
}

// WriteAccounts prints the account and mnemonic listing, ordered by index.
func WriteAccounts(w io.Writer, set AccountSet) error {
	r := lipgloss.NewRenderer(w)
	title := r.NewStyle().Bold(true)
	label := r.NewStyle().Foreground(lipgloss.Color("3"))
	validator := r.NewStyle().Foreground(lipgloss.Color("2"))

	var b strings.Builder
	b.WriteString(title.Render("Available Accounts") + "\n")
	b.WriteString("==================\n")
	for _, a := range set {
		line := fmt.Sprintf("%s %s", label.Render("("+a.Name+")"), a.Address)
		if a.IsValidator() {
			line += " " + validator.Render("(validator)")
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + title.Render("Mnemonics") + "\n")
	b.WriteString("==================\n")
	for _, a := range set {
		b.WriteString(fmt.Sprintf("%s %s\n", label.Render("("+a.Name+")"), a.Mnemonic))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
