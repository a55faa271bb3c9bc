// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package ban

import (
	"fmt"

	"github.com/coreos/go-iptables/iptables"
)

// JumpRuleBinding idempotently ensures that traffic from the addresses
// held in a ban set is actually dropped: neither driver's set-element
// operations touch packet filtering on their own, so something has to
// bind the set to a rule once, at boot. This is that binding, fronting
// github.com/coreos/go-iptables rather than one more exec.Command
// shaped like the original's ipset calls.
type JumpRuleBinding struct {
	Chain string // e.g. "INPUT"
	ipt4  *iptables.IPTables
	ipt6  *iptables.IPTables
}

// NewJumpRuleBinding opens both protocol families' iptables handles.
func NewJumpRuleBinding(chain string) (*JumpRuleBinding, error) {
	ipt4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("iptables binding: ipv4: %w", err)
	}
	ipt6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		return nil, fmt.Errorf("iptables binding: ipv6: %w", err)
	}
	return &JumpRuleBinding{Chain: chain, ipt4: ipt4, ipt6: ipt6}, nil
}

// Ensure appends (if absent) a single rule to Chain that drops packets
// whose source address is a member of set, for both families. It is
// safe to call repeatedly: AppendUnique is a no-op when the rule
// already exists.
func (b *JumpRuleBinding) Ensure(set string) error {
	rule := []string{"-m", "set", "--match-set", set, "src", "-j", "DROP"}
	if err := b.ipt4.AppendUnique("filter", b.Chain, rule...); err != nil {
		return fmt.Errorf("iptables binding: ipv4 %s: %w", b.Chain, err)
	}
	if err := b.ipt6.AppendUnique("filter", b.Chain, rule...); err != nil {
		return fmt.Errorf("iptables binding: ipv6 %s: %w", b.Chain, err)
	}
	return nil
}
