package directorium

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// boolChoiceValue is a boolean flag that also accepts yes/no, on/off and y/n.
type boolChoiceValue struct {
	target *bool
}

func newBoolChoiceValue(target *bool) *boolChoiceValue {
	return &boolChoiceValue{target: target}
}

func (value *boolChoiceValue) String() string {
	if value == nil || value.target == nil {
		return ""
	}
	return strconv.FormatBool(*value.target)
}

func (value *boolChoiceValue) Set(input string) error {
	boolValue, ok := parseBoolChoice(input)
	if !ok {
		return fmt.Errorf("invalid boolean value %q", input)
	}
	*value.target = boolValue
	return nil
}

func (value *boolChoiceValue) Type() string {
	return "bool"
}

// addBoolChoiceFlag registers a permissive boolean flag that reads as true when given without a value.
func addBoolChoiceFlag(flags *pflag.FlagSet, target *bool, name string, usage string) {
	flags.Var(newBoolChoiceValue(target), name, usage)
	if flag := flags.Lookup(name); flag != nil {
		flag.NoOptDefVal = "true"
		flag.DefValue = strconv.FormatBool(*target)
	}
}

func parseBoolChoice(input string) (bool, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		trimmed = "true"
	}
	switch strings.ToLower(trimmed) {
	case "true", "t", "1", "yes", "y", "on":
		return true, true
	case "false", "f", "0", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}
