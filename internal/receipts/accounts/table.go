package accounts

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed accounts.yaml
var defaultTableYAML []byte

// PaymentRole is the placeholder a rule uses for "cash or bank, by payment method".
const PaymentRole = "@payment"

// Rule maps one voucher category to its debit and credit roles.
type Rule struct {
	Direction string `yaml:"direction"`
	Debit     string `yaml:"debit"`
	Credit    string `yaml:"credit"`
}

// Table is the configuration behind the resolver.
type Table struct {
	Roles              map[string]string `yaml:"roles"`
	DefaultPaymentRole string            `yaml:"default_payment_role"`
	PaymentMethods     map[string]string `yaml:"payment_methods"`
	TaxRole            string            `yaml:"tax_role"`
	Rules              map[string]Rule   `yaml:"rules"`
}

// Legs holds resolved account codes for one posting.
type Legs struct {
	DebitRole  string
	DebitCode  string
	CreditRole string
	CreditCode string
}

// DefaultTable returns the embedded table.
func DefaultTable() (*Table, error) {
	return LoadTable(strings.NewReader(string(defaultTableYAML)))
}

// LoadTableFile reads a table from disk. An empty path yields the embedded default.
func LoadTableFile(path string) (*Table, error) {
	if path == "" {
		return DefaultTable()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("accounts: open table: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// LoadTable decodes and validates a YAML table.
func LoadTable(r io.Reader) (*Table, error) {
	var t Table
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("accounts: decode table: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) validate() error {
	if len(t.Rules) == 0 {
		return fmt.Errorf("accounts: table has no rules")
	}
	for name, rule := range t.Rules {
		dir := strings.ToUpper(rule.Direction)
		if dir != "IN" && dir != "OUT" {
			return fmt.Errorf("accounts: rule %s: invalid direction %q", name, rule.Direction)
		}
		for _, role := range []string{rule.Debit, rule.Credit} {
			if role == PaymentRole {
				continue
			}
			if _, ok := t.Roles[role]; !ok {
				return fmt.Errorf("accounts: rule %s: unknown role %q", name, role)
			}
		}
	}
	for method, role := range t.PaymentMethods {
		if _, ok := t.Roles[role]; !ok {
			return fmt.Errorf("accounts: payment method %s: unknown role %q", method, role)
		}
	}
	if t.DefaultPaymentRole == "" {
		t.DefaultPaymentRole = "cash"
	}
	return nil
}

// PaymentRoleFor maps a payment method onto cash or bank.
func (t *Table) PaymentRoleFor(method string) string {
	if role, ok := t.PaymentMethods[strings.ToLower(strings.TrimSpace(method))]; ok {
		return role
	}
	return t.DefaultPaymentRole
}

// Codes is the pure lookup: category + payment method + direction to account codes.
// A role without a code in Roles is reported as a MissingAccountError.
func (t *Table) Codes(category, paymentMethod, direction string) (Legs, error) {
	rule, ok := t.Rules[category]
	if !ok {
		return Legs{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	if direction != "" && !strings.EqualFold(rule.Direction, direction) {
		return Legs{}, fmt.Errorf("%w: %s expects %s, got %s", ErrDirectionMismatch, category, strings.ToUpper(rule.Direction), direction)
	}
	legs := Legs{
		DebitRole:  t.expand(rule.Debit, paymentMethod),
		CreditRole: t.expand(rule.Credit, paymentMethod),
	}
	legs.DebitCode = t.Roles[legs.DebitRole]
	if legs.DebitCode == "" {
		return Legs{}, &MissingAccountError{Role: legs.DebitRole, Leg: "debit"}
	}
	legs.CreditCode = t.Roles[legs.CreditRole]
	if legs.CreditCode == "" {
		return Legs{}, &MissingAccountError{Role: legs.CreditRole, Leg: "credit"}
	}
	return legs, nil
}

func (t *Table) expand(role, paymentMethod string) string {
	if role == PaymentRole {
		return t.PaymentRoleFor(paymentMethod)
	}
	return role
}

// TaxCode returns the configured tax-payable code, if any.
func (t *Table) TaxCode() string {
	if t.TaxRole == "" {
		return ""
	}
	return t.Roles[t.TaxRole]
}

// Categories lists configured categories in stable order.
func (t *Table) Categories() []string {
	out := make([]string, 0, len(t.Rules))
	for name := range t.Rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RoleCodes lists every role with its code, sorted by role.
func (t *Table) RoleCodes() [][2]string {
	roles := make([]string, 0, len(t.Roles))
	for role := range t.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	out := make([][2]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, [2]string{role, t.Roles[role]})
	}
	return out
}
