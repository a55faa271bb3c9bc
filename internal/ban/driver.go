// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package ban implements the persistent ban store of §4.5: a single
// algorithm shared by two firewall drivers (nft-style, over netlink;
// ipset-style, over the ipset CLI), matching the "Ban engine holding a
// driver capability" design note.
package ban

// Driver is the capability every firewall backend must provide. Both
// concrete drivers translate to add/delete-element commands for a
// named set; cancelBan errors are deliberately ignored by the caller
// per §4.5 and Design Note (b) — "too late" is an acceptable outcome.
type Driver interface {
	SetBan(set, ip string, seconds int) error
	CancelBan(set, ip string) error
}
