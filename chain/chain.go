package chain

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type selects the network a node instance runs against. It parameterizes
// on-disk paths, configuration defaults and network policy switches.
type Type int

const (
	Mainnet Type = iota
	Testnet
	UserTesting
	AutomatedTesting
)

var ErrUnknownChainType = errors.New("unknown chain type")

var shortNames = map[Type]string{
	Mainnet:          "main",
	Testnet:          "test",
	UserTesting:      "user",
	AutomatedTesting: "auto",
}

var longNames = map[Type]string{
	Mainnet:          "mainnet",
	Testnet:          "testnet",
	UserTesting:      "usertesting",
	AutomatedTesting: "automatedtesting",
}

// All lists every known chain type, mainnet first.
func All() []Type {
	return []Type{Mainnet, Testnet, UserTesting, AutomatedTesting}
}

// ShortName is the directory segment used under the node home tree.
func (t Type) ShortName() string {
	if n, ok := shortNames[t]; ok {
		return n
	}
	return "unknown"
}

func (t Type) String() string {
	if n, ok := longNames[t]; ok {
		return n
	}
	return fmt.Sprintf("chain(%d)", int(t))
}

func (t Type) IsMainnet() bool {
	return t == Mainnet
}

func (t Type) Valid() bool {
	_, ok := shortNames[t]
	return ok
}

// Parse accepts either the short or the long name, case-insensitive.
func Parse(s string) (Type, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for _, t := range All() {
		if needle == shortNames[t] || needle == longNames[t] {
			return t, nil
		}
	}
	return Mainnet, fmt.Errorf("%w: %q", ErrUnknownChainType, s)
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChainType, int(t))
	}
	return []byte(longNames[t]), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Type) MarshalYAML() (interface{}, error) {
	b, err := t.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *Type) UnmarshalYAML(value *yaml.Node) error {
	return t.UnmarshalText([]byte(value.Value))
}
